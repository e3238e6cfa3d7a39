// Package backend is the Hearth realtime server: notifications, presence,
// direct messages, live streams and calls fanned out over websockets.
//
// The code is organized into subpackages:
//
// - internal/websocket: connection hub, rooms and the socket protocol
// - internal/notifications: notification rows and the per-user page cache
// - internal/presence: online tracking and last-seen persistence
// - internal/social: follows and post/comment activity events
// - internal/messages: conversations and direct messages
// - internal/live: live-stream rooms and call signaling
// - internal/spam: live chat filtering
// - internal/purge: background removal of deleted messages and expired stories
// - internal/handlers: HTTP endpoints
// - internal/middleware: HTTP middleware (auth, rate limiting, logging, metrics, tracing)
//
// Binaries live under cmd/: the API server and the hearth operations CLI.
package backend
