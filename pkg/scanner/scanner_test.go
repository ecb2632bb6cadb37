package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/classtrack/classtrack/pkg/alert"
	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/gallery"
	"github.com/classtrack/classtrack/pkg/match"
	"github.com/classtrack/classtrack/pkg/session"
)

type memorySink struct {
	records []session.Record
}

func (s *memorySink) AppendAttendance(rec session.Record) error {
	s.records = append(s.records, rec)
	return nil
}

type fixture struct {
	engine  *stubEngine
	scanner *Scanner
	sink    *memorySink
	store   *gallery.Store
}

// newFixture wires a scanner over a real gallery, brute matcher,
// tracker, and alert manager, with the detector/embedder stubbed.
func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()

	store, err := gallery.NewStore(filepath.Join(t.TempDir(), "gallery.json"), 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	engine := newStubEngine()
	sink := &memorySink{}
	matcher := match.NewBruteMatcher(store, 0.5)
	tracker := session.NewTracker(sink)
	alerts := alert.NewManager(cooldown, nil)

	return &fixture{
		engine:  engine,
		scanner: New(engine, engine, matcher, tracker, alerts),
		sink:    sink,
		store:   store,
	}
}

func frameAt(key string, ts time.Time) camera.Frame {
	return camera.Frame{Data: []byte(key), Format: "jpeg", Timestamp: ts}
}

// drain collects whatever events are currently queued.
func drain(s *Scanner) []Event {
	var events []Event
	for {
		select {
		case ev := <-s.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestEndToEndRecognition(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	// Enroll s1 with one reference embedding.
	embedding := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "Student One", [][]float32{embedding}); err != nil {
		t.Fatal(err)
	}

	region := camera.Region{X: 10, Y: 10, Width: 50, Height: 50}
	f.engine.addFace("known", stubFace{region: region, embedding: embedding})
	f.engine.addFace("unknown", stubFace{region: region, embedding: []float32{-5, 9}})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

	// The same enrolled face across two frames yields exactly one
	// marked event then one already-present event.
	f.scanner.ProcessFrame(frameAt("known", base))
	f.scanner.ProcessFrame(frameAt("known", base.Add(time.Second)))

	events := drain(f.scanner)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventAttendanceMarked || events[0].IdentityID != "s1" {
		t.Errorf("expected AttendanceMarked(s1), got %+v", events[0])
	}
	if events[1].Kind != EventAlreadyPresent || events[1].IdentityID != "s1" {
		t.Errorf("expected AlreadyPresent(s1), got %+v", events[1])
	}
	if !events[0].Timestamp.Equal(base) {
		t.Errorf("expected first detection timestamp, got %v", events[0].Timestamp)
	}

	if len(f.sink.records) != 1 {
		t.Fatalf("expected exactly one attendance record, got %d", len(f.sink.records))
	}

	// A face far from every gallery embedding raises one security alert.
	f.scanner.ProcessFrame(frameAt("unknown", base.Add(2*time.Second)))

	events = drain(f.scanner)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventSecurityAlert {
		t.Errorf("expected SecurityAlert, got %+v", events[0])
	}
	if events[0].Region != region {
		t.Errorf("alert must carry the face region, got %+v", events[0].Region)
	}
	if events[0].IdentityID != "" {
		t.Errorf("alert must not name an identity, got %q", events[0].IdentityID)
	}
}

func TestAlertCooldownAcrossFrames(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	region := camera.Region{Width: 40, Height: 40}
	f.engine.addFace("unknown", stubFace{region: region, embedding: []float32{9, 9}})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	f.scanner.ProcessFrame(frameAt("unknown", base))
	f.scanner.ProcessFrame(frameAt("unknown", base.Add(3*time.Second)))
	f.scanner.ProcessFrame(frameAt("unknown", base.Add(6*time.Second)))

	var alertCount int
	for _, ev := range drain(f.scanner) {
		if ev.Kind == EventSecurityAlert {
			alertCount++
		}
	}
	if alertCount != 2 {
		t.Errorf("expected 2 alerts (cooldown suppresses the middle frame), got %d", alertCount)
	}
}

func TestZeroDetectionsIsNoOp(t *testing.T) {
	f := newFixture(t, time.Second)
	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}

	f.scanner.ProcessFrame(frameAt("empty-room", time.Now()))

	if events := drain(f.scanner); len(events) != 0 {
		t.Errorf("expected no events for a frame without faces, got %+v", events)
	}
}

func TestMultipleDetectionsPerFrame(t *testing.T) {
	f := newFixture(t, time.Second)

	e1 := []float32{1, 0}
	e2 := []float32{0, 1}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{e1}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.ReplaceIdentity("s2", "Two", [][]float32{e2}); err != nil {
		t.Fatal(err)
	}

	f.engine.addFace("pair", stubFace{region: camera.Region{X: 0, Width: 40, Height: 40}, embedding: e1})
	f.engine.addFace("pair", stubFace{region: camera.Region{X: 100, Width: 40, Height: 40}, embedding: e2})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}
	f.scanner.ProcessFrame(frameAt("pair", time.Now()))

	marked := make(map[string]bool)
	for _, ev := range drain(f.scanner) {
		if ev.Kind != EventAttendanceMarked {
			t.Errorf("expected only marked events, got %+v", ev)
		}
		marked[ev.IdentityID] = true
	}
	if !marked["s1"] || !marked["s2"] {
		t.Errorf("expected both identities marked, got %v", marked)
	}
	if len(f.sink.records) != 2 {
		t.Errorf("expected 2 attendance records, got %d", len(f.sink.records))
	}
}

func TestDetectorFailureSkipsFrame(t *testing.T) {
	f := newFixture(t, time.Second)
	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}

	f.engine.detectErr = errDetectorDown
	f.scanner.ProcessFrame(frameAt("known", time.Now()))

	if events := drain(f.scanner); len(events) != 0 {
		t.Errorf("expected no events when detection fails, got %+v", events)
	}

	// The stream recovers on the next frame.
	f.engine.detectErr = nil
	embedding := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{embedding}); err != nil {
		t.Fatal(err)
	}
	f.engine.addFace("known", stubFace{region: camera.Region{Width: 40, Height: 40}, embedding: embedding})
	f.scanner.ProcessFrame(frameAt("known", time.Now()))

	events := drain(f.scanner)
	if len(events) != 1 || events[0].Kind != EventAttendanceMarked {
		t.Errorf("expected recovery after detector failure, got %+v", events)
	}
}

func TestEmbedderFailureSkipsProbeOnly(t *testing.T) {
	f := newFixture(t, time.Second)

	good := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{good}); err != nil {
		t.Fatal(err)
	}

	f.engine.addFace("mixed", stubFace{region: camera.Region{X: 0, Width: 40, Height: 40}, embedErr: errDetectorDown})
	f.engine.addFace("mixed", stubFace{region: camera.Region{X: 100, Width: 40, Height: 40}, embedding: good})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}
	f.scanner.ProcessFrame(frameAt("mixed", time.Now()))

	events := drain(f.scanner)
	if len(events) != 1 || events[0].Kind != EventAttendanceMarked || events[0].IdentityID != "s1" {
		t.Errorf("expected the healthy probe to still mark attendance, got %+v", events)
	}
}

func TestNoSessionDropsMatches(t *testing.T) {
	f := newFixture(t, time.Second)

	embedding := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{embedding}); err != nil {
		t.Fatal(err)
	}
	f.engine.addFace("known", stubFace{region: camera.Region{Width: 40, Height: 40}, embedding: embedding})

	// No session started: confident matches are dropped silently.
	f.scanner.ProcessFrame(frameAt("known", time.Now()))
	if events := drain(f.scanner); len(events) != 0 {
		t.Errorf("expected no events without an active session, got %+v", events)
	}
	if len(f.sink.records) != 0 {
		t.Errorf("expected no records without an active session, got %d", len(f.sink.records))
	}
}

func TestEndSessionStopsAttendance(t *testing.T) {
	f := newFixture(t, time.Second)

	embedding := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{embedding}); err != nil {
		t.Fatal(err)
	}
	f.engine.addFace("known", stubFace{region: camera.Region{Width: 40, Height: 40}, embedding: embedding})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}
	f.scanner.EndSession()

	f.scanner.ProcessFrame(frameAt("known", time.Now()))
	if events := drain(f.scanner); len(events) != 0 {
		t.Errorf("expected no events after EndSession, got %+v", events)
	}
}

// fakeSource serves a fixed list of frames then blocks until cancelled.
type fakeSource struct {
	frames []camera.Frame
	next   int
}

func (s *fakeSource) Next(ctx context.Context) (camera.Frame, error) {
	if s.next < len(s.frames) {
		frame := s.frames[s.next]
		s.next++
		return frame, nil
	}
	<-ctx.Done()
	return camera.Frame{}, ctx.Err()
}

func (s *fakeSource) Close() error { return nil }

func TestRunProcessesStreamAndClosesEvents(t *testing.T) {
	f := newFixture(t, time.Second)

	embedding := []float32{1, 0}
	if err := f.store.ReplaceIdentity("s1", "One", [][]float32{embedding}); err != nil {
		t.Fatal(err)
	}
	f.engine.addFace("known", stubFace{region: camera.Region{Width: 40, Height: 40}, embedding: embedding})

	if _, err := f.scanner.StartSession("math"); err != nil {
		t.Fatal(err)
	}

	source := &fakeSource{frames: []camera.Frame{
		frameAt("known", time.Now()),
		frameAt("known", time.Now()),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.scanner.Run(ctx, source) }()

	// Queued events are delivered even while the loop is being stopped.
	var events []Event
	for ev := range f.scanner.Events() {
		events = append(events, ev)
		if len(events) == 2 {
			cancel()
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventAttendanceMarked || events[1].Kind != EventAlreadyPresent {
		t.Errorf("unexpected event sequence: %+v", events)
	}
}
