// Package websocket is the event bus between server-side write paths and connected
// clients. Connections join rooms (user:, post:, conversation:, live:) and every
// event is emitted to exactly one room.
// Uses github.com/coder/websocket - the modern, context-aware WebSocket library for Go.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Pending emissions buffered ahead of the dispatch loop
	dispatchQueueSize = 4096

	// Bounds the contact lookup done on connect and disconnect
	contactLookupTimeout = 5 * time.Second
)

// MessageHandler processes one inbound event from a client
type MessageHandler func(client *Client, message *Message) error

// DisconnectHook runs after a client has left all rooms. rooms lists what it left.
type DisconnectHook func(client *Client, rooms []string)

// HandlerError is returned by handlers to send a specific socketError code to the client
type HandlerError struct {
	Code    string
	Message string
}

func (e *HandlerError) Error() string {
	return e.Code + ": " + e.Message
}

// NewHandlerError creates a HandlerError
func NewHandlerError(code, message string) *HandlerError {
	return &HandlerError{Code: code, Message: message}
}

// HandlerErrorFrom maps service errors to socketError codes. Errors outside the
// taxonomy are returned unchanged and reported as handler_error.
func HandlerErrorFrom(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput):
		return NewHandlerError(CodeInvalidPayload, err.Error())
	case errors.Is(err, apperrors.ErrRecordNotFound):
		return NewHandlerError(CodeNotFound, err.Error())
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return NewHandlerError(CodeForbidden, err.Error())
	default:
		return err
	}
}

// PresenceTracker receives connection lifecycle transitions
type PresenceTracker interface {
	MarkOnline(userID string) bool
	MarkOffline(userID string, at time.Time) bool
}

// ContactLister returns the users interested in userID's presence
type ContactLister interface {
	ContactIDs(ctx context.Context, userID string) ([]string, error)
}

// RateLimitConfig defines per-connection inbound rate limiting
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained inbound frame rate per connection
	MessagesPerSecond float64
	// Burst allows short bursts above the rate
	Burst int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: 10,
		Burst:             20,
	}
}

// emission is one Emit call waiting for the dispatch loop
type emission struct {
	room  string
	event string
	data  []byte
}

// Hub tracks connections and room membership and fans emitted events out to rooms.
// All emissions pass through one dispatch goroutine, so events emitted to a room
// from one goroutine reach each connection in emit order.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	queue chan emission

	handlers map[string]MessageHandler
	hooks    []DisconnectHook

	presence PresenceTracker
	contacts ContactLister

	rateLimit RateLimitConfig
	metrics   *metrics.Metrics
	now       func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	stopped chan struct{}
}

// NewHub creates a Hub. presence and contacts may be nil.
func NewHub(presence PresenceTracker, contacts ContactLister) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:     make(map[string]map[*Client]struct{}),
		clients:   make(map[*Client]struct{}),
		queue:     make(chan emission, dispatchQueueSize),
		handlers:  make(map[string]MessageHandler),
		presence:  presence,
		contacts:  contacts,
		rateLimit: DefaultRateLimitConfig(),
		metrics:   metrics.Get(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

// SetRateLimitConfig updates the limits applied to clients created afterwards
func (h *Hub) SetRateLimitConfig(config RateLimitConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimit = config
}

// SetContactLister replaces the source of presence recipients
func (h *Hub) SetContactLister(contacts ContactLister) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.contacts = contacts
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rateLimit
}

// RegisterHandler registers a handler for an inbound event name
func (h *Hub) RegisterHandler(event string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
	logger.Log.Debug("Registered socket handler", logger.WithEvent(event))
}

// GetHandler returns the handler for an event
func (h *Hub) GetHandler(event string) (MessageHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[event]
	return handler, ok
}

// OnDisconnect registers a hook run for every disconnecting client
func (h *Hub) OnDisconnect(hook DisconnectHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// Run drains the emission queue until Shutdown
func (h *Hub) Run() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer close(h.stopped)

	logger.Log.Info("Socket hub started")
	for {
		select {
		case <-h.ctx.Done():
			logger.Log.Info("Socket hub stopped")
			return
		case em := <-h.queue:
			h.deliver(em)
		}
	}
}

// deliver writes one emission to the send buffer of every member of its room
func (h *Hub) deliver(em emission) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[em.room]))
	for c := range h.rooms[em.room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if c.enqueue(em.data) {
			h.metrics.SocketEventsEmitted.WithLabelValues(em.event).Inc()
		} else {
			h.metrics.SocketEventsDropped.WithLabelValues("client_buffer_full").Inc()
			logger.Log.Debug("Dropped frame for slow client",
				logger.WithUserID(c.UserID),
				logger.WithRoom(em.room),
				logger.WithEvent(em.event))
		}
	}
}

// Emit queues event for every connection currently in room. It never blocks:
// when the queue is full or the hub is stopped the event is dropped.
func (h *Hub) Emit(room, event string, payload interface{}) {
	data, err := json.Marshal(NewMessage(event, payload))
	if err != nil {
		logger.Log.Error("Failed to encode socket event", logger.WithEvent(event), zap.Error(err))
		return
	}

	if h.ctx.Err() != nil {
		h.metrics.SocketEventsDropped.WithLabelValues("hub_stopped").Inc()
		return
	}

	select {
	case h.queue <- emission{room: room, event: event, data: data}:
	default:
		h.metrics.SocketEventsDropped.WithLabelValues("queue_full").Inc()
		logger.Log.Warn("Socket dispatch queue full, dropping event",
			logger.WithRoom(room),
			logger.WithEvent(event))
	}
}

// EmitToUser emits to every connection of userID
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.Emit(UserRoom(userID), event, payload)
}

// JoinRoom adds client to room. It reports false if the client was already a member.
func (h *Hub) JoinRoom(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	if _, ok := client.rooms[room]; ok {
		return false
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
	return true
}

// LeaveRoom removes client from room. It reports false if the client was not a member.
func (h *Hub) LeaveRoom(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) bool {
	if _, ok := client.rooms[room]; !ok {
		return false
	}
	delete(client.rooms, room)

	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return true
}

// Connect registers an authenticated client, joins its personal room, marks the
// user online and tells the user's contacts when this is their first connection.
func (h *Hub) Connect(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.JoinRoom(client, UserRoom(client.UserID))

	h.metrics.SocketConnectionsTotal.Inc()
	h.metrics.SocketConnectionsActive.Inc()

	if h.presence != nil && h.presence.MarkOnline(client.UserID) {
		h.notifyContacts(client.UserID, EventUserOnline)
	}

	_ = client.Send(NewMessage(EventConnected, ConnectedPayload{
		UserID:       client.UserID,
		ConnectionID: client.ID,
		ServerTime:   h.now().UTC().UnixMilli(),
	}))

	logger.Log.Info("Client connected",
		logger.WithUserID(client.UserID),
		zap.String("connection_id", client.ID))
}

// Disconnect removes client from every room, marks presence offline and tells
// contacts when it was the user's last connection. Safe to call more than once.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	left := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		left = append(left, room)
	}
	for _, room := range left {
		h.leaveLocked(client, room)
	}
	hooks := append([]DisconnectHook(nil), h.hooks...)
	h.mu.Unlock()

	client.Close()
	h.metrics.SocketConnectionsActive.Dec()

	if h.presence != nil && h.presence.MarkOffline(client.UserID, h.now().UTC()) {
		h.notifyContacts(client.UserID, EventUserOffline)
	}

	for _, hook := range hooks {
		hook(client, left)
	}

	logger.Log.Info("Client disconnected",
		logger.WithUserID(client.UserID),
		zap.String("connection_id", client.ID))
}

// notifyContacts emits a presence event to the personal room of each contact
func (h *Hub) notifyContacts(userID, event string) {
	h.mu.RLock()
	contacts := h.contacts
	h.mu.RUnlock()
	if contacts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, contactLookupTimeout)
	defer cancel()

	ids, err := contacts.ContactIDs(ctx, userID)
	if err != nil {
		logger.Log.Warn("Failed to load contacts for presence broadcast",
			logger.WithUserID(userID),
			zap.Error(err))
		return
	}

	payload := PresencePayload{UserID: userID}
	for _, id := range ids {
		h.EmitToUser(id, event, payload)
	}
}

// Dispatch routes one inbound frame from client to its handler
func (h *Hub) Dispatch(client *Client, msg *Message) {
	switch msg.Event {
	case EventPing:
		reply := NewMessage(EventPong, PongPayload{ServerTime: h.now().UTC().UnixMilli()})
		reply.ID = msg.ID
		_ = client.Send(reply)
		return
	}

	handler, ok := h.GetHandler(msg.Event)
	if !ok {
		logger.Log.Debug("Unknown socket event",
			logger.WithUserID(client.UserID),
			logger.WithEvent(msg.Event))
		client.SendError(CodeUnknownEvent, fmt.Sprintf("Unknown event: %s", msg.Event))
		return
	}

	if err := handler(client, msg); err != nil {
		var he *HandlerError
		if errors.As(err, &he) {
			client.SendError(he.Code, he.Message)
			return
		}
		logger.Log.Error("Socket handler failed",
			logger.WithUserID(client.UserID),
			logger.WithEvent(msg.Event),
			zap.Error(err))
		client.SendError(CodeHandlerError, fmt.Sprintf("Failed to process %s", msg.Event))
	}
}

// RoomSize returns the number of connections in room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// InRoom reports whether client is a member of room
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[room]
	return ok
}

// RoomUsers returns the distinct user ids connected to room
func (h *Hub) RoomUsers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{}, len(h.rooms[room]))
	users := make([]string, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			users = append(users, c.UserID)
		}
	}
	return users
}

// ClientsInRoomForUser returns userID's connections that are members of room
func (h *Hub) ClientsInRoomForUser(room, userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	for c := range h.rooms[room] {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// ClearRoom removes every connection from room and returns them
func (h *Hub) ClearRoom(room string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	for _, c := range members {
		h.leaveLocked(c, room)
	}
	return members
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Queued      int `json:"queued"`
}

// Stats returns current counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections: len(h.clients),
		Rooms:       len(h.rooms),
		Queued:      len(h.queue),
	}
}

// Shutdown tells every client the server is going away, closes them and stops the loop
func (h *Hub) Shutdown(ctx context.Context) error {
	logger.Log.Info("Initiating socket hub shutdown")

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	bye := NewMessage(EventDisconnect, map[string]string{"reason": "server_shutdown"})
	for _, c := range clients {
		_ = c.Send(bye)
		c.Close()
	}

	h.cancel()
	if !h.started.Load() {
		return nil
	}

	select {
	case <-h.stopped:
		logger.Log.Info("Socket hub shutdown complete", zap.Int("closed", len(clients)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
