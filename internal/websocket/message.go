package websocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	// Try to unmarshal as Unix milliseconds (integer)
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	// Fall back to RFC3339 string format
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Lifecycle events
const (
	EventConnected   = "connected"
	EventDisconnect  = "disconnect"
	EventSocketError = "socketError"
	EventPing        = "ping"
	EventPong        = "pong"
)

// Room membership requests
const (
	EventJoinPost          = "joinPost"
	EventLeavePost         = "leavePost"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventJoinLiveStream    = "joinLiveStream"
	EventLeaveLiveStream   = "leaveLiveStream"
)

// Post activity, emitted by the server only
const (
	EventPostReact     = "post_react"
	EventCommentReact  = "commentReact"
	EventCreateComment = "createComment"
	EventReplyComment  = "replyComment"
	EventEditedComment = "edited_comment"
	EventDeleteComment = "deleteComment"
)

// Direct messages
const (
	EventSendMessageToConversation = "sendMessageToConversation"
	EventMessageReceived           = "messageReceived"
	EventTypingStart               = "typing:start"
	EventDisplayTyping             = "displayTyping"
)

// Presence
const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
)

// Call signaling
const (
	EventOutgoingCall = "outgoing:call"
	EventIncomingCall = "incoming:call"
	EventCallAccepted = "call:accepted"
	EventCallRejected = "call:rejected"
	EventCallTimeout  = "call_timeout"
	EventCallerLeft   = "caller_left"
)

// Live streams
const (
	EventLiveViewCount      = "liveViewCount"
	EventLiveChatMessage    = "liveChatMessage"
	EventUserKickFromLive   = "user_kick_from_live"
	EventBanUserFromLive    = "ban_user_from_my_live_stream"
	EventHostLeftLiveStream = "hostLeftLiveStream"
	EventHostJoinLiveStream = "hostJointLiveStream"
	EventHostEndLiveStream  = "hostEndLiveStream"
)

// Notifications and the follow graph
const (
	EventNotifyUser   = "notify_user"
	EventFollowUser   = "follow_user"
	EventUnfollowUser = "unfollow_user"
)

// socketError codes
const (
	CodeInvalidJSON    = "invalid_json"
	CodeInvalidPayload = "invalid_payload"
	CodeUnknownEvent   = "unknown_event"
	CodeRateLimited    = "rate_limited"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeRejected       = "rejected"
	CodeHandlerError   = "handler_error"
)

// Room key prefixes
const (
	RoomUser         = "user:"
	RoomPost         = "post:"
	RoomConversation = "conversation:"
	RoomLive         = "live:"
)

// UserRoom returns the personal room of userID
func UserRoom(userID string) string { return RoomUser + userID }

// PostRoom returns the room of viewers of postID
func PostRoom(postID string) string { return RoomPost + postID }

// ConversationRoom returns the room of open views of conversationID
func ConversationRoom(conversationID string) string { return RoomConversation + conversationID }

// LiveRoom returns the room of viewers of live stream streamID
func LiveRoom(streamID string) string { return RoomLive + streamID }

// Message is the envelope of every frame in both directions
type Message struct {
	// Event names the frame for routing
	Event string `json:"event"`

	// Payload contains the event-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is an optional client-chosen id echoed on replies
	ID string `json:"id,omitempty"`

	// Timestamp when the message was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(event string, payload interface{}) *Message {
	return &Message{
		Event:     event,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorMessage creates a socketError frame
func NewErrorMessage(code, message string) *Message {
	return NewMessage(EventSocketError, ErrorPayload{Code: code, Message: message})
}

// ErrorPayload is the payload of socketError
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload is sent once after the handshake
type ConnectedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	ServerTime   int64  `json:"serverTime"`
}

// PresencePayload is the payload of user:online and user:offline
type PresencePayload struct {
	UserID string `json:"userId"`
}

// PongPayload answers a client ping
type PongPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// ParsePayload unmarshals the payload into a specific type
func (m *Message) ParsePayload(target interface{}) error {
	if m.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// PayloadID extracts an entity id from payloads of the forms "5", 5 or
// {"id": "5"} / {"<key>": "5"} for any of keys.
func (m *Message) PayloadID(keys ...string) (string, error) {
	switch v := m.Payload.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case map[string]interface{}:
		for _, k := range append([]string{"id"}, keys...) {
			switch id := v[k].(type) {
			case string:
				if id != "" {
					return id, nil
				}
			case float64:
				return strconv.FormatInt(int64(id), 10), nil
			}
		}
	}
	return "", fmt.Errorf("%s: payload must carry an id", m.Event)
}
