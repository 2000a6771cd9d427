package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics is a set of process-wide counters. A nil *Metrics ignores updates.
type Metrics struct {
	signups        atomic.Uint64
	logins         atomic.Uint64
	authRejections atomic.Uint64
	chatMessages   atomic.Uint64
	directMessages atomic.Uint64
	duplicates     atomic.Uint64
	codeUpdates    atomic.Uint64
	droppedFrames  atomic.Uint64
	activeConns    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup() {
	if m != nil {
		m.signups.Add(1)
	}
}

func (m *Metrics) IncLogin() {
	if m != nil {
		m.logins.Add(1)
	}
}

func (m *Metrics) IncAuthRejected() {
	if m != nil {
		m.authRejections.Add(1)
	}
}

func (m *Metrics) IncChatMessage(direct bool) {
	if m == nil {
		return
	}
	if direct {
		m.directMessages.Add(1)
		return
	}
	m.chatMessages.Add(1)
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.duplicates.Add(1)
	}
}

func (m *Metrics) IncCodeUpdate() {
	if m != nil {
		m.codeUpdates.Add(1)
	}
}

func (m *Metrics) IncDroppedFrame() {
	if m != nil {
		m.droppedFrames.Add(1)
	}
}

func (m *Metrics) IncConn() {
	if m != nil {
		m.activeConns.Add(1)
	}
}

func (m *Metrics) DecConn() {
	if m != nil {
		m.activeConns.Add(-1)
	}
}

func (m *Metrics) ActiveConns() int64 {
	if m == nil {
		return 0
	}
	return m.activeConns.Load()
}

// metricsHandler renders the counters together with live gauges from the
// coordinator.
type metricsHandler struct {
	metrics  *Metrics
	hub      *Hub
	presence *PresenceTracker
}

func (h metricsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	m := h.metrics
	payload := map[string]any{
		"signups_total":            m.signups.Load(),
		"logins_total":             m.logins.Load(),
		"auth_rejections_total":    m.authRejections.Load(),
		"chat_messages_total":      m.chatMessages.Load(),
		"direct_messages_total":    m.directMessages.Load(),
		"duplicate_messages_total": m.duplicates.Load(),
		"code_updates_total":       m.codeUpdates.Load(),
		"dropped_frames_total":     m.droppedFrames.Load(),
		"active_connections":       m.activeConns.Load(),
		"active_rooms":             h.hub.RoomCount(),
		"active_users":             h.presence.ActiveCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
