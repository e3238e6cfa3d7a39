package messages

import (
	"github.com/hearth-social/backend/internal/websocket"
)

// TypingPayload is the payload of displayTyping
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// RegisterSocketHandlers wires conversation rooms, typing indicators and socket sends
func (s *Service) RegisterSocketHandlers(hub *websocket.Hub) {
	hub.RegisterHandler(websocket.EventJoinConversation, func(client *websocket.Client, msg *websocket.Message) error {
		id, err := msg.PayloadID("conversationId")
		if err != nil {
			return websocket.NewHandlerError(websocket.CodeInvalidPayload, err.Error())
		}
		if err := s.CheckMember(client.Context(), id, client.UserID); err != nil {
			return websocket.HandlerErrorFrom(err)
		}
		hub.JoinRoom(client, websocket.ConversationRoom(id))
		return nil
	})

	hub.RegisterHandler(websocket.EventLeaveConversation, func(client *websocket.Client, msg *websocket.Message) error {
		id, err := msg.PayloadID("conversationId")
		if err != nil {
			return websocket.NewHandlerError(websocket.CodeInvalidPayload, err.Error())
		}
		hub.LeaveRoom(client, websocket.ConversationRoom(id))
		return nil
	})

	// Clients filter their own typing events
	hub.RegisterHandler(websocket.EventTypingStart, func(client *websocket.Client, msg *websocket.Message) error {
		id, err := msg.PayloadID("conversationId")
		if err != nil {
			return websocket.NewHandlerError(websocket.CodeInvalidPayload, err.Error())
		}
		room := websocket.ConversationRoom(id)
		if !hub.InRoom(client, room) {
			return websocket.NewHandlerError(websocket.CodeForbidden, "join the conversation first")
		}
		hub.Emit(room, websocket.EventDisplayTyping, TypingPayload{
			ConversationID: id,
			UserID:         client.UserID,
			Username:       client.Username,
		})
		return nil
	})

	hub.RegisterHandler(websocket.EventSendMessageToConversation, func(client *websocket.Client, msg *websocket.Message) error {
		var req sendRequest
		if err := msg.ParsePayload(&req); err != nil || req.ConversationID == "" {
			return websocket.NewHandlerError(websocket.CodeInvalidPayload, "conversationId and content are required")
		}
		_, err := s.Send(client.Context(), client.UserID, req.ConversationID, req.Content)
		return websocket.HandlerErrorFrom(err)
	})
}
