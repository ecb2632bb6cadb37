// Package session tracks one attendance-taking period at a time and
// guarantees at most one attendance record per identity per session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/classtrack/pkg/logging"
)

// State is the lifecycle state of the tracker's current session.
type State int

const (
	// StateNotStarted means no session has been started yet.
	StateNotStarted State = iota
	// StateActive means a session is running and accepts attendance.
	StateActive
	// StateEnded means the last session has ended.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Record is one append-only attendance entry.
type Record struct {
	SessionID  string
	IdentityID string
	Timestamp  time.Time
	Status     string
}

// StatusPresent is the default attendance status.
const StatusPresent = "Present"

// Sink receives attendance records. The tracker writes through at mark
// time and never reads back.
type Sink interface {
	AppendAttendance(rec Record) error
}

// ErrSessionActive is returned when starting a session while one is
// already running.
var ErrSessionActive = errors.New("a session is already active")

// ErrSessionNotActive is returned when recording attendance outside an
// active session.
var ErrSessionNotActive = errors.New("no active session")

// Info describes a session for callers outside the tracker.
type Info struct {
	ID        string
	Subject   string
	StartTime time.Time
	EndTime   time.Time
	Marked    int
}

// Tracker runs the session state machine. Commands come from a single
// UI goroutine while the recognition loop records attendance, so all
// state is guarded by one mutex.
type Tracker struct {
	mu    sync.Mutex
	sink  Sink
	state State

	id        string
	subject   string
	startTime time.Time
	endTime   time.Time
	marked    map[string]struct{}
}

// NewTracker creates a tracker writing through to the given sink.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{sink: sink, state: StateNotStarted}
}

// Start begins a new session for the given subject. Fails with
// ErrSessionActive while another session is running.
func (t *Tracker) Start(subject string) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateActive {
		return Info{}, ErrSessionActive
	}

	t.id = uuid.NewString()
	t.subject = subject
	t.startTime = time.Now()
	t.endTime = time.Time{}
	t.marked = make(map[string]struct{})
	t.state = StateActive

	logging.Component("session").WithFields(logging.Fields{
		"session": t.id,
		"subject": subject,
	}).Info("Session started")

	return t.infoLocked(), nil
}

// End stops the current session. Calling End again, or without a
// running session, is a no-op so duplicate stop signals from the UI are
// harmless.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return
	}

	t.endTime = time.Now()
	t.state = StateEnded

	logging.Component("session").WithFields(logging.Fields{
		"session": t.id,
		"subject": t.subject,
		"marked":  len(t.marked),
	}).Info("Session ended")
}

// RecordAttendance marks an identity present in the current session.
// Returns true when the identity was newly marked; repeated detections
// of the same identity return false and produce no second record.
func (t *Tracker) RecordAttendance(identityID string, ts time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return false, ErrSessionNotActive
	}

	if _, ok := t.marked[identityID]; ok {
		return false, nil
	}

	rec := Record{
		SessionID:  t.id,
		IdentityID: identityID,
		Timestamp:  ts,
		Status:     StatusPresent,
	}
	// Persist before marking: if the sink rejects the record the
	// identity stays unmarked and the next detection retries.
	if err := t.sink.AppendAttendance(rec); err != nil {
		return false, fmt.Errorf("failed to persist attendance for %s: %w", identityID, err)
	}

	t.marked[identityID] = struct{}{}
	return true, nil
}

// State returns the tracker's current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns a copy of the current session's descriptive data.
// Valid after Start, including after End.
func (t *Tracker) Current() (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateNotStarted {
		return Info{}, false
	}
	return t.infoLocked(), true
}

func (t *Tracker) infoLocked() Info {
	return Info{
		ID:        t.id,
		Subject:   t.subject,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		Marked:    len(t.marked),
	}
}
