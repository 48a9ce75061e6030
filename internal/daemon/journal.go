package daemon

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.olrik.dev/invigilator/internal/db"
	"go.olrik.dev/invigilator/internal/integrity"
)

// recordJournal writes every timeline event to the journal until the
// timeline is closed. The returned channel is closed once the last event
// has been written.
func recordJournal(journal *db.DB, timeline *integrity.Timeline, logger *slog.Logger) <-chan struct{} {
	_, events := timeline.Subscribe(true)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range events {
			if err := journalEvent(journal, e); err != nil {
				logger.Error("Failed to journal event", "kind", e.Kind, "error", err)
			}
		}
	}()

	return done
}

// printTimeline writes new timeline events until the timeline is closed.
// The returned channel is closed after the last line has been written.
func printTimeline(writer *integrity.TimelineWriter, timeline *integrity.Timeline) <-chan struct{} {
	_, events := timeline.Subscribe(false)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range events {
			writer.Write(e)
		}
	}()

	return done
}

func journalEvent(journal *db.DB, e integrity.Event) error {
	switch {
	case e.Notification != nil:
		n := e.Notification
		return journal.LogNotification(n.Source.String(), string(n.Severity), n.Message, e.Timestamp)
	case e.Transition != nil:
		t := e.Transition
		return journal.LogTransition(t.From.State.String(), t.To.State.String(), t.To.FocusLosses, e.Timestamp)
	case e.Verdict != nil:
		return journal.LogVerdict(e.Verdict.WiredPresent, e.Verdict.WirelessPresent, e.Timestamp)
	}
	return nil
}

// logSummary writes one line describing the whole session
func logSummary(journal *db.DB, logger *slog.Logger) {
	summary, err := journal.GetSummary()
	if err != nil {
		logger.Error("Failed to summarize session", "error", err)
		return
	}

	finalState := summary.FinalState
	if finalState == "" {
		finalState = integrity.StateMonitoring.String()
	}

	logger.Info("Session summary",
		"notifications", formatCounts(summary.Notifications),
		"focus_losses", summary.FocusLosses,
		"final_state", finalState,
		"keyboard_checks", summary.VerdictsChecked,
		"keyboard_seen", summary.KeyboardSeen,
	)
}

// formatCounts renders {"warning": 2, "error": 1} as "error=1 warning=2"
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
