// Package live runs live-stream rooms (viewers, host control, chat) and one-to-one
// call signaling on top of the socket hub.
package live

import (
	"strings"
	"sync"
	"time"

	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/spam"
	"github.com/hearth-social/backend/internal/websocket"
	"go.uber.org/zap"
)

// Socket error code for chat rejected by the spam guard
const CodeSpam = "spam"

// MaxChatLength bounds one live chat message
const MaxChatLength = 500

// ViewCountPayload is the payload of liveViewCount
type ViewCountPayload struct {
	StreamID string `json:"streamId"`
	Count    int    `json:"count"`
}

// ChatInput is what a viewer sends with liveChatMessage
type ChatInput struct {
	StreamID string `json:"streamId"`
	Content  string `json:"content"`
}

// ChatPayload is the liveChatMessage broadcast to the stream
type ChatPayload struct {
	StreamID string    `json:"streamId"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
}

// ModerationPayload is the payload of user_kick_from_live and ban_user_from_my_live_stream
type ModerationPayload struct {
	StreamID string `json:"streamId"`
	UserID   string `json:"userId"`
}

// HostPayload is the payload of the host lifecycle events
type HostPayload struct {
	StreamID string `json:"streamId"`
	HostID   string `json:"hostId"`
}

type stream struct {
	hostID string
	banned map[string]struct{}
}

// Streams tracks who hosts each live stream and who is banned from it.
// Viewers are the members of the stream's live: room.
type Streams struct {
	hub   *websocket.Hub
	guard *spam.Guard
	now   func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
}

// NewStreams creates the live-stream controller. guard filters chat and may be nil.
func NewStreams(hub *websocket.Hub, guard *spam.Guard) *Streams {
	return &Streams{
		hub:     hub,
		guard:   guard,
		now:     time.Now,
		streams: make(map[string]*stream),
	}
}

// HostOf returns the host of streamID
func (s *Streams) HostOf(streamID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return "", false
	}
	return st.hostID, true
}

// IsBanned reports whether userID is banned from streamID
func (s *Streams) IsBanned(streamID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return false
	}
	_, banned := st.banned[userID]
	return banned
}

// ViewerCount is the number of distinct users watching streamID, host excluded
func (s *Streams) ViewerCount(streamID string) int {
	host, _ := s.HostOf(streamID)
	n := 0
	for _, id := range s.hub.RoomUsers(websocket.LiveRoom(streamID)) {
		if id != host {
			n++
		}
	}
	return n
}

func (s *Streams) emitViewCount(streamID string) {
	s.hub.Emit(websocket.LiveRoom(streamID), websocket.EventLiveViewCount, ViewCountPayload{
		StreamID: streamID,
		Count:    s.ViewerCount(streamID),
	})
}

// RegisterSocketHandlers wires the live-stream events and the disconnect hook
func (s *Streams) RegisterSocketHandlers() {
	s.hub.RegisterHandler(websocket.EventHostJoinLiveStream, s.handleHostJoin)
	s.hub.RegisterHandler(websocket.EventHostLeftLiveStream, s.handleHostLeft)
	s.hub.RegisterHandler(websocket.EventHostEndLiveStream, s.handleHostEnd)
	s.hub.RegisterHandler(websocket.EventJoinLiveStream, s.handleJoin)
	s.hub.RegisterHandler(websocket.EventLeaveLiveStream, s.handleLeave)
	s.hub.RegisterHandler(websocket.EventLiveChatMessage, s.handleChat)
	s.hub.RegisterHandler(websocket.EventUserKickFromLive, s.handleKick)
	s.hub.RegisterHandler(websocket.EventBanUserFromLive, s.handleBan)
	s.hub.OnDisconnect(s.onDisconnect)
}

func streamID(msg *websocket.Message) (string, error) {
	id, err := msg.PayloadID("streamId")
	if err != nil {
		return "", websocket.NewHandlerError(websocket.CodeInvalidPayload, err.Error())
	}
	return id, nil
}

// handleHostJoin starts a stream, or resumes it when its host reconnects
func (s *Streams) handleHostJoin(client *websocket.Client, msg *websocket.Message) error {
	id, err := streamID(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	st, ok := s.streams[id]
	if ok && st.hostID != client.UserID {
		s.mu.Unlock()
		return websocket.NewHandlerError(websocket.CodeForbidden, "stream already has a host")
	}
	if !ok {
		s.streams[id] = &stream{hostID: client.UserID, banned: make(map[string]struct{})}
	}
	s.mu.Unlock()

	room := websocket.LiveRoom(id)
	s.hub.JoinRoom(client, room)
	s.hub.Emit(room, websocket.EventHostJoinLiveStream, HostPayload{StreamID: id, HostID: client.UserID})

	logger.Log.Info("Live stream host joined", logger.WithUserID(client.UserID), logger.WithRoom(room))
	return nil
}

// requireHost returns the stream id when client hosts it
func (s *Streams) requireHost(client *websocket.Client, msg *websocket.Message) (string, error) {
	id, err := streamID(msg)
	if err != nil {
		return "", err
	}
	host, ok := s.HostOf(id)
	if !ok {
		return "", websocket.NewHandlerError(websocket.CodeNotFound, "stream is not live")
	}
	if host != client.UserID {
		return "", websocket.NewHandlerError(websocket.CodeForbidden, "only the host can do that")
	}
	return id, nil
}

func (s *Streams) handleHostLeft(client *websocket.Client, msg *websocket.Message) error {
	id, err := s.requireHost(client, msg)
	if err != nil {
		return err
	}
	room := websocket.LiveRoom(id)
	s.hub.Emit(room, websocket.EventHostLeftLiveStream, HostPayload{StreamID: id, HostID: client.UserID})
	s.hub.LeaveRoom(client, room)
	return nil
}

// handleHostEnd closes the stream: viewers are told and removed from the room
func (s *Streams) handleHostEnd(client *websocket.Client, msg *websocket.Message) error {
	id, err := s.requireHost(client, msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()

	// Rooms are resolved at delivery, so the removed members are told directly
	room := websocket.LiveRoom(id)
	notice := websocket.NewMessage(websocket.EventHostEndLiveStream, HostPayload{StreamID: id, HostID: client.UserID})
	members := s.hub.ClearRoom(room)
	for _, c := range members {
		_ = c.Send(notice)
	}

	logger.Log.Info("Live stream ended",
		logger.WithUserID(client.UserID),
		logger.WithRoom(room),
		zap.Int("viewers", len(members)))
	return nil
}

func (s *Streams) handleJoin(client *websocket.Client, msg *websocket.Message) error {
	id, err := streamID(msg)
	if err != nil {
		return err
	}
	if s.IsBanned(id, client.UserID) {
		return websocket.NewHandlerError(websocket.CodeForbidden, "you are banned from this stream")
	}
	if s.hub.JoinRoom(client, websocket.LiveRoom(id)) {
		s.emitViewCount(id)
	}
	return nil
}

func (s *Streams) handleLeave(client *websocket.Client, msg *websocket.Message) error {
	id, err := streamID(msg)
	if err != nil {
		return err
	}
	if s.hub.LeaveRoom(client, websocket.LiveRoom(id)) {
		s.emitViewCount(id)
	}
	return nil
}

// handleChat relays chat that passes the spam guard to the stream's room
func (s *Streams) handleChat(client *websocket.Client, msg *websocket.Message) error {
	var in ChatInput
	if err := msg.ParsePayload(&in); err != nil || in.StreamID == "" {
		return websocket.NewHandlerError(websocket.CodeInvalidPayload, "streamId and content are required")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" || len(content) > MaxChatLength {
		return websocket.NewHandlerError(websocket.CodeInvalidPayload, "chat messages must be 1-500 characters")
	}

	room := websocket.LiveRoom(in.StreamID)
	if !s.hub.InRoom(client, room) {
		return websocket.NewHandlerError(websocket.CodeForbidden, "join the stream first")
	}

	if s.guard != nil {
		if v := s.guard.Check(client.UserID, content); !v.Allowed {
			logger.Log.Debug("Live chat rejected",
				logger.WithUserID(client.UserID),
				logger.WithRoom(room),
				zap.String("reason", string(v.Reason)))
			return websocket.NewHandlerError(CodeSpam, string(v.Reason))
		}
	}

	s.hub.Emit(room, websocket.EventLiveChatMessage, ChatPayload{
		StreamID: in.StreamID,
		UserID:   client.UserID,
		Username: client.Username,
		Content:  content,
		SentAt:   s.now().UTC(),
	})
	return nil
}

// removeViewer takes every connection of userID out of the stream and tells them why
func (s *Streams) removeViewer(streamID, userID, event string) {
	room := websocket.LiveRoom(streamID)
	for _, c := range s.hub.ClientsInRoomForUser(room, userID) {
		s.hub.LeaveRoom(c, room)
	}
	s.hub.EmitToUser(userID, event, ModerationPayload{StreamID: streamID, UserID: userID})
	s.emitViewCount(streamID)
}

func (s *Streams) moderationTarget(client *websocket.Client, msg *websocket.Message) (string, string, error) {
	id, err := s.requireHost(client, msg)
	if err != nil {
		return "", "", err
	}
	var in ModerationPayload
	if err := msg.ParsePayload(&in); err != nil || in.UserID == "" {
		return "", "", websocket.NewHandlerError(websocket.CodeInvalidPayload, "userId is required")
	}
	if in.UserID == client.UserID {
		return "", "", websocket.NewHandlerError(websocket.CodeInvalidPayload, "the host cannot remove themselves")
	}
	return id, in.UserID, nil
}

func (s *Streams) handleKick(client *websocket.Client, msg *websocket.Message) error {
	id, target, err := s.moderationTarget(client, msg)
	if err != nil {
		return err
	}
	s.removeViewer(id, target, websocket.EventUserKickFromLive)
	return nil
}

// handleBan removes the user and refuses their later joins until the stream ends
func (s *Streams) handleBan(client *websocket.Client, msg *websocket.Message) error {
	id, target, err := s.moderationTarget(client, msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if st, ok := s.streams[id]; ok {
		st.banned[target] = struct{}{}
	}
	s.mu.Unlock()

	s.removeViewer(id, target, websocket.EventBanUserFromLive)
	return nil
}

// onDisconnect refreshes view counts and reports a host whose last connection dropped
func (s *Streams) onDisconnect(client *websocket.Client, rooms []string) {
	for _, room := range rooms {
		if !strings.HasPrefix(room, websocket.RoomLive) {
			continue
		}
		id := strings.TrimPrefix(room, websocket.RoomLive)

		host, ok := s.HostOf(id)
		if ok && host == client.UserID {
			if len(s.hub.ClientsInRoomForUser(room, client.UserID)) == 0 {
				s.hub.Emit(room, websocket.EventHostLeftLiveStream, HostPayload{StreamID: id, HostID: host})
			}
			continue
		}
		s.emitViewCount(id)
	}
}
