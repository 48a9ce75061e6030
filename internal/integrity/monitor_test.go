package integrity

import (
	"errors"
	"testing"
	"time"
)

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{
		IdleThreshold:  time.Hour,
		MaxBlurCount:   3,
		TerminateDelay: time.Hour,
		Peripheral: PeripheralConfig{
			SettleDelay:     time.Hour,
			WirelessTimeout: 50 * time.Millisecond,
		},
		HistorySize: 32,
		Logger:      quietLogger(),
	}
}

func TestNewMonitor_MissingCapability(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
	}{
		{"no surface", Platform{Displays: &fakeDisplays{}, Process: newFakeProcess()}},
		{"no displays", Platform{Surface: &fakeSurface{}, Process: newFakeProcess()}},
		{"no process", Platform{Surface: &fakeSurface{}, Displays: &fakeDisplays{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMonitor(testMonitorConfig(), tt.platform)
			if !errors.Is(err, ErrMissingCapability) {
				t.Errorf("expected ErrMissingCapability, got %v", err)
			}
		})
	}
}

func TestNewMonitor_InvalidThreshold(t *testing.T) {
	config := testMonitorConfig()
	config.IdleThreshold = 0

	_, err := NewMonitor(config, Platform{
		Surface:  &fakeSurface{},
		Displays: &fakeDisplays{},
		Process:  newFakeProcess(),
	})
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold, got %v", err)
	}
}

func TestMonitor_EndToEnd(t *testing.T) {
	surface := &fakeSurface{}
	displays := &fakeDisplays{displays: []Display{fullHD, fullHD}}
	process := newFakeProcess()

	m, err := NewMonitor(testMonitorConfig(), Platform{
		Surface:  surface,
		Displays: displays,
		Process:  process,
	})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	m.Start(t.Context())
	defer m.Stop()
	drain(t, m.Loop())

	banners := surface.Banners()
	if len(banners) != 1 || banners[0].Message != mirroringMessage {
		t.Fatalf("expected initial mirroring warning, got %+v", banners)
	}

	surface.loseFocus()
	drain(t, m.Loop())
	if got := m.Status(); got.State != StateWarned || got.Remaining != 2 {
		t.Errorf("expected warned with 2 remaining, got %+v", got)
	}

	m.idle.tick()
	surface.input()
	if got := m.IdleSeconds(); got != 0 {
		t.Errorf("expected raw input to reset idle counter, got %d", got)
	}

	var kinds []EventKind
	var sources []SignalKind
	for _, e := range m.Timeline().Items() {
		kinds = append(kinds, e.Kind)
		if e.Notification != nil {
			sources = append(sources, e.Notification.Source)
		}
	}
	wantKinds := []EventKind{EventNotification, EventTransition, EventNotification}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("expected %d timeline events, got %v", len(wantKinds), kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Errorf("event %d: expected %s, got %s", i, wantKinds[i], kinds[i])
		}
	}
	if sources[0] != SignalDisplayTopology || sources[1] != SignalFocusLoss {
		t.Errorf("expected display then focus-loss sources, got %v", sources)
	}
}

func TestMonitor_StopIsFinal(t *testing.T) {
	surface := &fakeSurface{}
	m, err := NewMonitor(testMonitorConfig(), Platform{
		Surface:  surface,
		Displays: &fakeDisplays{displays: []Display{fullHD}},
		Process:  newFakeProcess(),
	})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	m.Start(t.Context())
	m.Stop()
	m.Stop()
	m.Start(t.Context())

	surface.loseFocus()
	m.Sink().Display("after stop", SeverityInfo)

	if got := m.Status().State; got != StateMonitoring {
		t.Errorf("expected no transition after stop, got %s", got)
	}
	if len(surface.Banners()) != 0 {
		t.Errorf("expected no banners after stop, got %+v", surface.Banners())
	}
}

func TestMonitor_SourcesOrder(t *testing.T) {
	m, err := NewMonitor(testMonitorConfig(), Platform{
		Surface:  &fakeSurface{},
		Displays: &fakeDisplays{},
		Process:  newFakeProcess(),
	})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	want := []SignalKind{SignalIdle, SignalFocusLoss, SignalDisplayTopology, SignalPeripheralPresence}
	sources := m.Sources()
	for i, s := range sources {
		if s.Kind() != want[i] {
			t.Errorf("source %d: expected %s, got %s", i, want[i], s.Kind())
		}
	}
}
