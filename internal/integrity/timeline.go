package integrity

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// EventKind distinguishes timeline entries
type EventKind string

const (
	EventNotification EventKind = "notification"
	EventTransition   EventKind = "transition"
	EventVerdict      EventKind = "verdict"
)

// Event is one entry of the session timeline. Exactly one of the pointer
// fields is set, matching Kind.
type Event struct {
	Timestamp    time.Time
	Kind         EventKind
	Notification *Notification
	Transition   *LockdownTransition
	Verdict      *KeyboardVerdict
}

// Timeline keeps the recent session events for replay and broadcasts new
// ones to subscribers. The on-screen banner holds one message only; the
// timeline is what is left for the proctor afterwards.
type Timeline struct {
	mu         sync.RWMutex
	clients    map[uint64]chan Event
	nextID     uint64
	history    *RingBuffer[Event]
	bufferSize int
}

// NewTimeline creates a timeline remembering the last historySize events
func NewTimeline(historySize int) *Timeline {
	if historySize <= 0 {
		historySize = 256
	}
	return &Timeline{
		clients:    make(map[uint64]chan Event),
		history:    NewRingBuffer[Event](historySize),
		bufferSize: 64,
	}
}

// Emit records the event and broadcasts it. Slow subscribers miss events
// rather than block the caller.
func (tl *Timeline) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.history.Push(e)
	for _, ch := range tl.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

// RecordNotification adds a notification to the timeline
func (tl *Timeline) RecordNotification(n Notification) {
	tl.Emit(Event{Timestamp: n.Timestamp, Kind: EventNotification, Notification: &n})
}

// RecordTransition adds a lockdown transition to the timeline
func (tl *Timeline) RecordTransition(t LockdownTransition) {
	tl.Emit(Event{Timestamp: t.Timestamp, Kind: EventTransition, Transition: &t})
}

// RecordVerdict adds a keyboard verdict to the timeline
func (tl *Timeline) RecordVerdict(v KeyboardVerdict) {
	tl.Emit(Event{Kind: EventVerdict, Verdict: &v})
}

// Subscribe adds a client. If replay is true the history is sent first.
// Returns the client ID for Unsubscribe and the receive channel.
func (tl *Timeline) Subscribe(replay bool) (uint64, <-chan Event) {
	ch := make(chan Event, tl.bufferSize)

	tl.mu.Lock()
	defer tl.mu.Unlock()

	id := tl.nextID
	tl.nextID++
	tl.clients[id] = ch

	if replay {
		for _, e := range tl.history.Items() {
			select {
			case ch <- e:
			default:
			}
		}
	}

	return id, ch
}

// Unsubscribe removes a client and closes its channel
func (tl *Timeline) Unsubscribe(id uint64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if ch, ok := tl.clients[id]; ok {
		close(ch)
		delete(tl.clients, id)
	}
}

// Close unsubscribes every client
func (tl *Timeline) Close() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for id, ch := range tl.clients {
		close(ch)
		delete(tl.clients, id)
	}
}

// Items returns the remembered events, oldest first
func (tl *Timeline) Items() []Event {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.history.Items()
}

// RingBuffer is a fixed-size circular buffer
type RingBuffer[T any] struct {
	items []T
	head  int // next write position
	count int
}

// NewRingBuffer creates a ring buffer holding at most size items
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{items: make([]T, size)}
}

// Push adds an item, overwriting the oldest when full
func (rb *RingBuffer[T]) Push(item T) {
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % len(rb.items)
	if rb.count < len(rb.items) {
		rb.count++
	}
}

// Items returns all items, oldest first
func (rb *RingBuffer[T]) Items() []T {
	if rb.count == 0 {
		return nil
	}
	result := make([]T, rb.count)
	if rb.count < len(rb.items) {
		copy(result, rb.items[:rb.count])
		return result
	}
	n := copy(result, rb.items[rb.head:])
	copy(result[n:], rb.items[:rb.head])
	return result
}

// Len returns the number of items held
func (rb *RingBuffer[T]) Len() int {
	return rb.count
}

// TimelineWriter prints timeline events as single lines
type TimelineWriter struct {
	out     io.Writer
	noColor bool
}

// NewTimelineWriter creates a writer. noColor disables ANSI colours.
func NewTimelineWriter(out io.Writer, noColor bool) *TimelineWriter {
	return &TimelineWriter{out: out, noColor: noColor}
}

// Write formats a single event
func (w *TimelineWriter) Write(e Event) {
	ts := e.Timestamp.Format("15:04:05.000")

	switch {
	case e.Notification != nil:
		n := e.Notification
		fmt.Fprintf(w.out, "%s %s %s: %s\n", ts, w.severity(n.Severity), n.Source, n.Message)
	case e.Transition != nil:
		t := e.Transition
		arrow := "->"
		if !w.noColor {
			arrow = "\033[90m->\033[0m"
		}
		fmt.Fprintf(w.out, "%s %s lockdown: %s %s %s\n", ts, w.severity(SeverityInfo), t.From, arrow, t.To)
	case e.Verdict != nil:
		v := e.Verdict
		fmt.Fprintf(w.out, "%s %s keyboard: wired=%v wireless=%v\n", ts, w.severity(SeverityInfo), v.WiredPresent, v.WirelessPresent)
	}
}

func (w *TimelineWriter) severity(s Severity) string {
	label := "INF"
	color := "\033[32m"
	switch s {
	case SeverityWarning:
		label, color = "WRN", "\033[33m"
	case SeverityError:
		label, color = "ERR", "\033[31m"
	}
	if w.noColor {
		return label
	}
	return color + label + "\033[0m"
}
