// Package hub tracks live admin and visitor channels and delivers events to them.
//
// Delivery is best-effort. A channel whose send fails is dropped from the
// registry; nothing is reported to the caller that triggered the send.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/logging"
)

// Conn is one open duplex channel. Send must be safe for concurrent use and
// implementations must be comparable; pointer types are expected.
type Conn interface {
	Send(v any) error
	Close() error
}

// Hub owns the admin set and the visitor map. The zero value is not usable;
// construct with New.
type Hub struct {
	mu       sync.RWMutex
	admins   map[Conn]struct{}
	visitors map[string]Conn
	logger   *zap.Logger
}

// New returns an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		admins:   make(map[Conn]struct{}),
		visitors: make(map[string]Conn),
		logger:   logger,
	}
}

// JoinAdmin registers an admin channel.
func (h *Hub) JoinAdmin(c Conn) {
	h.mu.Lock()
	h.admins[c] = struct{}{}
	n := len(h.admins)
	h.mu.Unlock()
	h.logger.Debug("admin joined", zap.Int("admins", n))
}

// LeaveAdmin removes an admin channel. Unknown channels are ignored.
func (h *Hub) LeaveAdmin(c Conn) {
	h.mu.Lock()
	delete(h.admins, c)
	n := len(h.admins)
	h.mu.Unlock()
	h.logger.Debug("admin left", zap.Int("admins", n))
}

// JoinVisitor registers c for sessionID, replacing and closing any previous channel.
func (h *Hub) JoinVisitor(sessionID string, c Conn) {
	h.mu.Lock()
	prev, had := h.visitors[sessionID]
	h.visitors[sessionID] = c
	h.mu.Unlock()

	if had && prev != c {
		h.logger.Debug("replacing visitor channel", logging.SessionID(sessionID))
		_ = prev.Close()
	}
}

// LeaveVisitor removes whatever channel is registered for sessionID.
func (h *Hub) LeaveVisitor(sessionID string) {
	h.mu.Lock()
	delete(h.visitors, sessionID)
	h.mu.Unlock()
}

// DetachVisitor removes the registration for sessionID only if it is still c.
// It reports whether a removal happened.
func (h *Hub) DetachVisitor(sessionID string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.visitors[sessionID]; ok && cur == c {
		delete(h.visitors, sessionID)
		return true
	}
	return false
}

// BroadcastAdmins sends v to every admin channel registered at call time and
// returns how many sends succeeded. Failed channels are removed after the pass.
func (h *Hub) BroadcastAdmins(v any) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.admins))
	for c := range h.admins {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var dead []Conn
	delivered := 0
	for _, c := range targets {
		if err := c.Send(v); err != nil {
			h.logger.Debug("admin send failed", zap.Error(err))
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			delete(h.admins, c)
		}
		h.mu.Unlock()
		for _, c := range dead {
			_ = c.Close()
		}
	}
	return delivered
}

// NotifyVisitor sends v to the channel registered for sessionID, if any, and
// reports whether it was delivered.
func (h *Hub) NotifyVisitor(sessionID string, v any) bool {
	h.mu.RLock()
	c, ok := h.visitors[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := c.Send(v); err != nil {
		h.logger.Debug("visitor send failed", logging.SessionID(sessionID), zap.Error(err))
		if h.DetachVisitor(sessionID, c) {
			_ = c.Close()
		}
		return false
	}
	return true
}

// OnlineCount returns the number of registered visitor channels.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.visitors)
}

// AdminCount returns the number of registered admin channels.
func (h *Hub) AdminCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.admins)
}

// HasAdmin reports whether c is registered as an admin channel.
func (h *Hub) HasAdmin(c Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.admins[c]
	return ok
}

// CloseAll closes and forgets every registered channel. Used on shutdown,
// since hijacked connections outlive http.Server.Shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.admins)+len(h.visitors))
	for c := range h.admins {
		conns = append(conns, c)
	}
	for _, c := range h.visitors {
		conns = append(conns, c)
	}
	h.admins = make(map[Conn]struct{})
	h.visitors = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
