// Package spam filters live-chat messages before they are broadcast.
// It is a best-effort throttle over per-sender in-memory state, not a security boundary.
package spam

import (
	"strings"
	"sync"
	"time"

	"github.com/hearth-social/backend/internal/metrics"
)

const (
	// MinInterval is the shortest gap allowed between two accepted messages from one sender
	MinInterval = 500 * time.Millisecond

	// HistorySize is how many recent messages are kept per sender
	HistorySize = 5
)

// Reason explains a verdict
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonRateLimit  Reason = "rate_limited"
	ReasonRepetition Reason = "repetition"
	ReasonBannedWord Reason = "banned_word"
)

// Verdict is the outcome of Check
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

type senderState struct {
	history  []string
	lastSent time.Time
}

// Guard holds spam state for every sender seen since it was created
type Guard struct {
	mu      sync.Mutex
	senders map[string]*senderState
	banned  []string
	now     func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard rejecting messages that contain any of banned (case-insensitive)
func NewGuard(banned []string, opts ...Option) *Guard {
	g := &Guard{
		senders: make(map[string]*senderState),
		now:     time.Now,
	}
	for _, w := range banned {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			g.banned = append(g.banned, w)
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check decides whether senderID may broadcast content. Accepted messages are
// recorded; rejected ones leave the sender's state untouched.
func (g *Guard) Check(senderID, content string) Verdict {
	v := g.check(senderID, content)
	if !v.Allowed {
		metrics.Get().SpamRejectedTotal.WithLabelValues(string(v.Reason)).Inc()
	}
	return v
}

func (g *Guard) check(senderID, content string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st, known := g.senders[senderID]

	if known && now.Sub(st.lastSent) < MinInterval {
		return Verdict{Reason: ReasonRateLimit}
	}

	if known && repeats(st.history, content) {
		return Verdict{Reason: ReasonRepetition}
	}

	if g.containsBanned(content) {
		return Verdict{Reason: ReasonBannedWord}
	}

	if !known {
		st = &senderState{history: make([]string, 0, HistorySize)}
		g.senders[senderID] = st
	}
	st.history = append(st.history, content)
	if len(st.history) > HistorySize {
		st.history = st.history[1:]
	}
	st.lastSent = now

	return Verdict{Allowed: true}
}

// repeats reports whether history plus content would be HistorySize identical messages.
// It fires only when the last HistorySize-1 entries all equal content.
func repeats(history []string, content string) bool {
	if len(history) < HistorySize-1 {
		return false
	}
	for _, h := range history[len(history)-(HistorySize-1):] {
		if h != content {
			return false
		}
	}
	return true
}

func (g *Guard) containsBanned(content string) bool {
	if len(g.banned) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, w := range g.banned {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Forget drops all state held for senderID
func (g *Guard) Forget(senderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.senders, senderID)
}

// History returns a copy of senderID's recorded messages, oldest first
func (g *Guard) History(senderID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.senders[senderID]
	if !ok {
		return nil
	}
	return append([]string(nil), st.history...)
}
