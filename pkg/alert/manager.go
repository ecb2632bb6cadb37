// Package alert rate-limits unauthorized-entry alerts. An unknown face
// lingering in view produces one probe per frame; one cooldown timer
// per session keeps that from becoming an alert storm.
package alert

import (
	"sync"
	"time"

	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/logging"
)

// Event is one fired security alert.
type Event struct {
	SessionID string
	Timestamp time.Time
	Region    camera.Region
	Distance  float64
}

// Sink persists fired alerts. May be nil when alert persistence is
// disabled.
type Sink interface {
	AppendAlert(ev Event) error
}

// Manager applies the cooldown policy. The timer is session-global, not
// per unknown individual: the system cannot tell two unknown people
// apart, so a single leaky bucket of one is used.
type Manager struct {
	mu       sync.Mutex
	cooldown time.Duration
	sink     Sink

	sessionID string
	fired     bool
	lastAlert time.Time
}

// NewManager creates an alert manager with the given cooldown.
func NewManager(cooldown time.Duration, sink Sink) *Manager {
	return &Manager{cooldown: cooldown, sink: sink}
}

// Reset clears the cooldown state for a new session. A new class period
// starts with a clean alert timer.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sessionID
	m.fired = false
	m.lastAlert = time.Time{}
}

// ConsiderUnknown decides whether an unconfident probe should raise an
// alert. Returns true when no alert fired yet this session or the
// cooldown has elapsed; on true the cooldown timer restarts.
func (m *Manager) ConsiderUnknown(region camera.Region, distance float64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fired && now.Sub(m.lastAlert) < m.cooldown {
		return false
	}

	m.fired = true
	m.lastAlert = now

	ev := Event{
		SessionID: m.sessionID,
		Timestamp: now,
		Region:    region,
		Distance:  distance,
	}
	if m.sink != nil {
		// A persistence failure must not suppress the live alert.
		if err := m.sink.AppendAlert(ev); err != nil {
			logging.Component("alert").WithError(err).Warn("failed to persist security alert")
		}
	}

	logging.Component("alert").WithFields(logging.Fields{
		"session":  m.sessionID,
		"distance": distance,
	}).Warn("Unauthorized face detected")
	return true
}
