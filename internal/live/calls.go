package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/websocket"
	"go.uber.org/zap"
)

// DefaultRingTimeout is how long an unanswered call rings
const DefaultRingTimeout = 30 * time.Second

// OutgoingCallPayload starts a call
type OutgoingCallPayload struct {
	CalleeID string          `json:"calleeId"`
	CallType string          `json:"callType,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

// IncomingCallPayload is sent to every connection of the callee
type IncomingCallPayload struct {
	CallID     string          `json:"callId"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	CallType   string          `json:"callType,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
}

// CallAnswerPayload is sent by the callee to accept or reject
type CallAnswerPayload struct {
	CallID string          `json:"callId"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// CallStatusPayload reports a call state change to the parties
type CallStatusPayload struct {
	CallID   string          `json:"callId"`
	CallerID string          `json:"callerId"`
	CalleeID string          `json:"calleeId"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

type stopper interface {
	Stop() bool
}

type pendingCall struct {
	id       string
	callerID string
	calleeID string
	timer    stopper
}

// Calls relays one-to-one call setup between users and expires unanswered calls.
// Media is negotiated peer to peer; only the signal blobs pass through here.
type Calls struct {
	hub         *websocket.Hub
	ringTimeout time.Duration
	afterFunc   func(time.Duration, func()) stopper

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewCalls creates the call relay. A non-positive ringTimeout uses DefaultRingTimeout.
func NewCalls(hub *websocket.Hub, ringTimeout time.Duration) *Calls {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Calls{
		hub:         hub,
		ringTimeout: ringTimeout,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		pending: make(map[string]*pendingCall),
	}
}

// RegisterSocketHandlers wires the call events and the disconnect hook
func (c *Calls) RegisterSocketHandlers() {
	c.hub.RegisterHandler(websocket.EventOutgoingCall, c.handleOutgoing)
	c.hub.RegisterHandler(websocket.EventCallAccepted, c.answer(websocket.EventCallAccepted))
	c.hub.RegisterHandler(websocket.EventCallRejected, c.answer(websocket.EventCallRejected))
	c.hub.OnDisconnect(c.onDisconnect)
}

// Pending returns the number of calls still ringing
func (c *Calls) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Calls) handleOutgoing(client *websocket.Client, msg *websocket.Message) error {
	var in OutgoingCallPayload
	if err := msg.ParsePayload(&in); err != nil || in.CalleeID == "" {
		return websocket.NewHandlerError(websocket.CodeInvalidPayload, "calleeId is required")
	}
	if in.CalleeID == client.UserID {
		return websocket.NewHandlerError(websocket.CodeInvalidPayload, "cannot call yourself")
	}
	if c.hub.RoomSize(websocket.UserRoom(in.CalleeID)) == 0 {
		return websocket.NewHandlerError(websocket.CodeNotFound, "user is offline")
	}

	call := &pendingCall{
		id:       uuid.New().String(),
		callerID: client.UserID,
		calleeID: in.CalleeID,
	}

	c.mu.Lock()
	c.pending[call.id] = call
	call.timer = c.afterFunc(c.ringTimeout, func() { c.expire(call.id) })
	c.mu.Unlock()

	c.hub.EmitToUser(in.CalleeID, websocket.EventIncomingCall, IncomingCallPayload{
		CallID:     call.id,
		CallerID:   client.UserID,
		CallerName: client.Username,
		CallType:   in.CallType,
		Signal:     in.Signal,
	})

	ack := websocket.NewMessage(websocket.EventOutgoingCall, CallStatusPayload{
		CallID:   call.id,
		CallerID: call.callerID,
		CalleeID: call.calleeID,
	})
	ack.ID = msg.ID
	_ = client.Send(ack)

	logger.Log.Debug("Call ringing",
		logger.WithUserID(client.UserID),
		zap.String("callee_id", in.CalleeID),
		zap.String("call_id", call.id))
	return nil
}

// take removes a pending call, stopping its ring timer
func (c *Calls) take(id string) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	if call.timer != nil {
		call.timer.Stop()
	}
	return call, true
}

// answer relays the callee's accept or reject to the caller
func (c *Calls) answer(event string) websocket.MessageHandler {
	return func(client *websocket.Client, msg *websocket.Message) error {
		var in CallAnswerPayload
		if err := msg.ParsePayload(&in); err != nil || in.CallID == "" {
			return websocket.NewHandlerError(websocket.CodeInvalidPayload, "callId is required")
		}

		c.mu.Lock()
		call, ok := c.pending[in.CallID]
		c.mu.Unlock()
		if !ok {
			return websocket.NewHandlerError(websocket.CodeNotFound, "call is no longer ringing")
		}
		if call.calleeID != client.UserID {
			return websocket.NewHandlerError(websocket.CodeForbidden, "only the callee can answer")
		}
		if _, ok := c.take(in.CallID); !ok {
			return websocket.NewHandlerError(websocket.CodeNotFound, "call is no longer ringing")
		}

		c.hub.EmitToUser(call.callerID, event, CallStatusPayload{
			CallID:   call.id,
			CallerID: call.callerID,
			CalleeID: call.calleeID,
			Signal:   in.Signal,
		})
		return nil
	}
}

func (c *Calls) expire(id string) {
	call, ok := c.take(id)
	if !ok {
		return
	}
	status := CallStatusPayload{CallID: call.id, CallerID: call.callerID, CalleeID: call.calleeID}
	c.hub.EmitToUser(call.callerID, websocket.EventCallTimeout, status)
	c.hub.EmitToUser(call.calleeID, websocket.EventCallTimeout, status)
}

// onDisconnect cancels the calls of a caller whose last connection closed
func (c *Calls) onDisconnect(client *websocket.Client, _ []string) {
	if c.hub.RoomSize(websocket.UserRoom(client.UserID)) > 0 {
		return
	}

	c.mu.Lock()
	var ids []string
	for id, call := range c.pending {
		if call.callerID == client.UserID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		call, ok := c.take(id)
		if !ok {
			continue
		}
		c.hub.EmitToUser(call.calleeID, websocket.EventCallerLeft, CallStatusPayload{
			CallID:   call.id,
			CallerID: call.callerID,
			CalleeID: call.calleeID,
		})
	}
}
