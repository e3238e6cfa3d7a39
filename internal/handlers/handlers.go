// Package handlers serves the REST surface of the realtime core: notification
// inbox, follows, presence lookups, direct messages and admin purge triggers.
// Every handler expects middleware.RequireAuth to have run.
package handlers

import (
	"github.com/hearth-social/backend/internal/messages"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/presence"
	"github.com/hearth-social/backend/internal/purge"
	"github.com/hearth-social/backend/internal/social"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	notifications *notifications.Service
	social        *social.Service
	presence      *presence.Tracker
	messages      *messages.Service
	purge         *purge.Scheduler
}

// NewHandlers creates a new handlers instance
func NewHandlers(notes *notifications.Service, soc *social.Service, tracker *presence.Tracker, msgs *messages.Service) *Handlers {
	return &Handlers{
		notifications: notes,
		social:        soc,
		presence:      tracker,
		messages:      msgs,
	}
}

// SetPurgeScheduler enables the admin purge endpoint
func (h *Handlers) SetPurgeScheduler(s *purge.Scheduler) {
	h.purge = s
}
