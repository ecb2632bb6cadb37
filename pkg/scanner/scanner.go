// Package scanner runs the recognition loop: for each frame it detects
// faces, embeds them, matches against the gallery, and updates the
// session tracker or alert manager. Observable outcomes are emitted as
// events for the presentation layer; the loop itself holds no durable
// state.
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/classtrack/classtrack/pkg/alert"
	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/logging"
	"github.com/classtrack/classtrack/pkg/match"
	"github.com/classtrack/classtrack/pkg/session"
)

// Detector locates face regions in a frame.
type Detector interface {
	Detect(frame camera.Frame) ([]camera.Region, error)
}

// Embedder converts one face region into a fixed-length embedding.
type Embedder interface {
	Embed(frame camera.Frame, region camera.Region) ([]float32, error)
}

// EventKind classifies scanner events.
type EventKind int

const (
	// EventAttendanceMarked means an identity was newly marked present.
	EventAttendanceMarked EventKind = iota
	// EventAlreadyPresent means a marked identity was seen again.
	EventAlreadyPresent
	// EventSecurityAlert means an unknown face passed the cooldown.
	EventSecurityAlert
)

func (k EventKind) String() string {
	switch k {
	case EventAttendanceMarked:
		return "attendance-marked"
	case EventAlreadyPresent:
		return "already-present"
	case EventSecurityAlert:
		return "security-alert"
	default:
		return "unknown"
	}
}

// Event is one observable recognition outcome. It carries everything
// the presentation layer needs without further lookups.
type Event struct {
	Kind       EventKind
	IdentityID string // set for attendance events
	Region     camera.Region
	Timestamp  time.Time
	Distance   float64
}

// eventBuffer is the capacity of the event queue to the UI.
const eventBuffer = 64

// Scanner orchestrates one recognition stream. Frames are processed
// one at a time in arrival order.
type Scanner struct {
	detector Detector
	embedder Embedder
	matcher  match.Matcher
	tracker  *session.Tracker
	alerts   *alert.Manager

	events chan Event
	log    *logrus.Entry
}

// New creates a scanner wired to the given collaborators.
func New(detector Detector, embedder Embedder, matcher match.Matcher,
	tracker *session.Tracker, alerts *alert.Manager) *Scanner {
	return &Scanner{
		detector: detector,
		embedder: embedder,
		matcher:  matcher,
		tracker:  tracker,
		alerts:   alerts,
		events:   make(chan Event, eventBuffer),
		log:      logging.Component("scanner"),
	}
}

// Events returns the queue of recognition events. The channel is closed
// when Run returns.
func (s *Scanner) Events() <-chan Event {
	return s.events
}

// StartSession begins a new attendance session and resets the alert
// cooldown so the new period starts with a clean alert state.
func (s *Scanner) StartSession(subject string) (session.Info, error) {
	info, err := s.tracker.Start(subject)
	if err != nil {
		return session.Info{}, err
	}
	s.alerts.Reset(info.ID)
	return info, nil
}

// EndSession stops the current session. Safe to call at any time;
// further attendance recording fails until the next StartSession while
// already-queued events still reach the consumer.
func (s *Scanner) EndSession() {
	s.tracker.End()
}

// Run consumes frames from the source until the context is cancelled or
// the source closes, then closes the event channel. Intended to run on
// its own goroutine so the presentation layer is never blocked by
// detection or embedding latency.
func (s *Scanner) Run(ctx context.Context, source camera.Source) error {
	defer close(s.events)

	for {
		frame, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, camera.ErrSourceClosed) {
				s.log.Debug("Recognition loop stopping")
				return nil
			}
			// A dropped frame is cheap; the next one retries.
			s.log.WithError(err).Warn("Failed to acquire frame")
			continue
		}

		s.ProcessFrame(frame)
	}
}

// ProcessFrame runs one recognition cycle over a single frame. Zero
// detections is a no-op; multiple detections are processed
// independently. Detector or embedder failures skip the affected
// probes and never stop the stream.
func (s *Scanner) ProcessFrame(frame camera.Frame) {
	regions, err := s.detector.Detect(frame)
	if err != nil {
		s.log.WithError(err).Warn("Face detection failed, skipping frame")
		return
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	for _, region := range regions {
		probe, err := s.embedder.Embed(frame, region)
		if err != nil {
			s.log.WithError(err).Warn("Embedding failed, skipping probe")
			continue
		}
		s.processProbe(probe, region, ts)
	}
}

func (s *Scanner) processProbe(probe []float32, region camera.Region, ts time.Time) {
	res := s.matcher.Match(probe)

	if !res.Confident {
		if s.alerts.ConsiderUnknown(region, res.Distance, ts) {
			s.emit(Event{
				Kind:      EventSecurityAlert,
				Region:    region,
				Timestamp: ts,
				Distance:  res.Distance,
			})
		}
		return
	}

	newly, err := s.tracker.RecordAttendance(res.IdentityID, ts)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotActive) {
			s.log.Debugf("Dropping match for %s: %v", res.IdentityID, err)
		} else {
			s.log.WithError(err).Warnf("Failed to record attendance for %s", res.IdentityID)
		}
		return
	}

	kind := EventAlreadyPresent
	if newly {
		kind = EventAttendanceMarked
		s.log.WithFields(logging.Fields{
			"identity": res.IdentityID,
			"distance": res.Distance,
		}).Info("Attendance marked")
	}
	s.emit(Event{
		Kind:       kind,
		IdentityID: res.IdentityID,
		Region:     region,
		Timestamp:  ts,
		Distance:   res.Distance,
	})
}

// emit queues an event without ever blocking the loop. If the consumer
// has fallen eventBuffer events behind, the newest event is dropped;
// attendance and alert state are already persisted by then.
func (s *Scanner) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warnf("Event queue full, dropping %s event", ev.Kind)
	}
}
