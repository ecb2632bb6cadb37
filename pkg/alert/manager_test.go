package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/classtrack/classtrack/pkg/camera"
)

type memorySink struct {
	events []Event
	fail   error
}

func (s *memorySink) AppendAlert(ev Event) error {
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, ev)
	return nil
}

var region = camera.Region{X: 10, Y: 20, Width: 64, Height: 64}

func TestCooldownSuppression(t *testing.T) {
	base := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cooldown time.Duration
		offsets  []time.Duration
		expected []bool
	}{
		{
			name:     "second probe inside cooldown is suppressed",
			cooldown: 5 * time.Second,
			offsets:  []time.Duration{0, 3 * time.Second},
			expected: []bool{true, false},
		},
		{
			name:     "second probe after cooldown fires",
			cooldown: 5 * time.Second,
			offsets:  []time.Duration{0, 6 * time.Second},
			expected: []bool{true, true},
		},
		{
			name:     "probe exactly at cooldown fires",
			cooldown: 5 * time.Second,
			offsets:  []time.Duration{0, 5 * time.Second},
			expected: []bool{true, true},
		},
		{
			name:     "suppressed probe does not restart the timer",
			cooldown: 5 * time.Second,
			offsets:  []time.Duration{0, 3 * time.Second, 5 * time.Second},
			expected: []bool{true, false, true},
		},
		{
			name:     "zero cooldown never suppresses",
			cooldown: 0,
			offsets:  []time.Duration{0, 0, time.Second},
			expected: []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cooldown, nil)
			m.Reset("sess-1")

			for i, off := range tt.offsets {
				got := m.ConsiderUnknown(region, 0.9, base.Add(off))
				if got != tt.expected[i] {
					t.Errorf("probe %d at +%v: got %v, want %v", i, off, got, tt.expected[i])
				}
			}
		})
	}
}

func TestResetClearsCooldown(t *testing.T) {
	base := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	m := NewManager(time.Hour, nil)
	m.Reset("sess-1")

	if !m.ConsiderUnknown(region, 0.9, base) {
		t.Fatal("first probe must alert")
	}
	if m.ConsiderUnknown(region, 0.9, base.Add(time.Second)) {
		t.Fatal("probe inside cooldown must be suppressed")
	}

	// A new session starts with a clean alert state.
	m.Reset("sess-2")
	if !m.ConsiderUnknown(region, 0.9, base.Add(2*time.Second)) {
		t.Error("first probe of a new session must alert")
	}
}

func TestAlertPersistence(t *testing.T) {
	base := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	sink := &memorySink{}
	m := NewManager(5*time.Second, sink)
	m.Reset("sess-1")

	m.ConsiderUnknown(region, 0.87, base)
	m.ConsiderUnknown(region, 0.91, base.Add(time.Second)) // suppressed

	if len(sink.events) != 1 {
		t.Fatalf("expected one persisted alert, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.SessionID != "sess-1" || ev.Region != region || ev.Distance != 0.87 {
		t.Errorf("unexpected alert event: %+v", ev)
	}
	if !ev.Timestamp.Equal(base) {
		t.Errorf("expected timestamp %v, got %v", base, ev.Timestamp)
	}
}

func TestSinkFailureDoesNotSuppressAlert(t *testing.T) {
	sink := &memorySink{fail: errors.New("disk full")}
	m := NewManager(time.Second, sink)
	m.Reset("sess-1")

	if !m.ConsiderUnknown(region, 0.9, time.Now()) {
		t.Error("alert must fire even when persistence fails")
	}
}
