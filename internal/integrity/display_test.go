package integrity

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	fullHD    = Display{WidthPx: 1920, HeightPx: 1080, ScaleFactor: 1.0}
	qhdScaled = Display{WidthPx: 2560, HeightPx: 1440, ScaleFactor: 1.25}
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		displays []Display
		want     Topology
	}{
		{"none", nil, TopologySingle},
		{"single", []Display{fullHD}, TopologySingle},
		{"identical pair", []Display{fullHD, fullHD}, TopologyMirrored},
		{"distinct pair", []Display{fullHD, qhdScaled}, TopologyExtended},
		{"same size different scale", []Display{fullHD, {1920, 1080, 2.0}}, TopologyExtended},
		{"third matches first", []Display{fullHD, qhdScaled, fullHD}, TopologyMirrored},
		{"later pair matches only each other", []Display{fullHD, qhdScaled, qhdScaled}, TopologyExtended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.displays); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func newTestDisplayDetector(t *testing.T, displays ...Display) (*DisplayDetector, *fakeDisplays, *recordingSink, *Loop) {
	t.Helper()
	provider := &fakeDisplays{displays: displays}
	sink := &recordingSink{}
	loop := startedLoop(t)
	return NewDisplayDetector(provider, sink, loop, quietLogger()), provider, sink, loop
}

func TestDisplayDetector_Warnings(t *testing.T) {
	tests := []struct {
		name     string
		displays []Display
		want     []banner
	}{
		{"mirroring", []Display{fullHD, fullHD}, []banner{{mirroringMessage, SeverityWarning}}},
		{"multi-monitor", []Display{fullHD, qhdScaled}, []banner{{externalMonitorMessage, SeverityWarning}}},
		{"single", []Display{fullHD}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, sink, loop := newTestDisplayDetector(t, tt.displays...)
			d.Start(t.Context())
			drain(t, loop)

			if diff := cmp.Diff(tt.want, sink.Messages()); diff != "" {
				t.Errorf("notifications mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDisplayDetector_RegistersHandlers(t *testing.T) {
	_, provider, _, _ := newTestDisplayDetector(t)
	if provider.added == nil || provider.removed == nil {
		t.Fatal("expected add and remove handlers to be registered at construction")
	}
}

func TestDisplayDetector_HotplugSequence(t *testing.T) {
	d, provider, sink, loop := newTestDisplayDetector(t, fullHD)
	d.Start(t.Context())
	drain(t, loop)

	provider.set(fullHD, qhdScaled)
	provider.added()
	drain(t, loop)

	provider.set(fullHD)
	provider.removed()
	drain(t, loop)

	want := []banner{
		{externalMonitorMessage, SeverityWarning},
		{disconnectedMessage, SeverityInfo},
	}
	if diff := cmp.Diff(want, sink.Messages()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayDetector_RemovalLeavingTwoStillWarns(t *testing.T) {
	_, provider, sink, loop := newTestDisplayDetector(t, fullHD, qhdScaled, fullHD)
	provider.set(fullHD, qhdScaled)
	provider.removed()
	drain(t, loop)

	want := []banner{{externalMonitorMessage, SeverityWarning}}
	if diff := cmp.Diff(want, sink.Messages()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayDetector_AddedSingleDisplayIsSilent(t *testing.T) {
	_, provider, sink, loop := newTestDisplayDetector(t, fullHD)
	provider.added()
	drain(t, loop)

	if len(sink.Messages()) != 0 {
		t.Errorf("expected no notification, got %v", sink.Messages())
	}
}

func TestDisplayDetector_EnumerationFailure(t *testing.T) {
	d, provider, sink, loop := newTestDisplayDetector(t)
	provider.err = errors.New("randr unavailable")

	d.Start(t.Context())
	drain(t, loop)

	if len(sink.Messages()) != 0 {
		t.Errorf("expected no notification on enumeration failure, got %v", sink.Messages())
	}
}

func TestDisplayDetector_StopSilencesEvents(t *testing.T) {
	d, provider, sink, loop := newTestDisplayDetector(t, fullHD, fullHD)
	d.Stop()
	d.Stop()

	provider.added()
	drain(t, loop)

	if len(sink.Messages()) != 0 {
		t.Errorf("expected no notification after Stop, got %v", sink.Messages())
	}
}
