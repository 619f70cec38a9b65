package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/cos/internal/events"
)

type fakeChannel struct {
	name    string
	matches func(events.Event) bool
	mu      sync.Mutex
	sent    []events.Event
	sendErr error
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) ShouldNotify(e events.Event) bool {
	if f.matches == nil {
		return true
	}
	return f.matches(e)
}
func (f *fakeChannel) Send(e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return f.sendErr
}
func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRouteOnlyCallsMatchingChannels(t *testing.T) {
	matching := &fakeChannel{name: "matching", matches: func(events.Event) bool { return true }}
	skipping := &fakeChannel{name: "skipping", matches: func(events.Event) bool { return false }}

	router := NewRouter([]Channel{matching, skipping})
	router.Route(*events.NewEvent(events.EventHealthCritical, "test", "all", events.PriorityCritical, nil))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if matching.sentCount() == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if matching.sentCount() != 1 {
		t.Errorf("expected matching channel to receive the event, got %d sends", matching.sentCount())
	}
	if skipping.sentCount() != 0 {
		t.Errorf("expected non-matching channel to be skipped, got %d sends", skipping.sentCount())
	}
}

func TestRouteSurvivesChannelError(t *testing.T) {
	failing := &fakeChannel{name: "failing", sendErr: errBoom}
	router := NewRouter([]Channel{failing})

	router.Route(*events.NewEvent(events.EventHealthCritical, "test", "all", events.PriorityCritical, nil))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if failing.sentCount() == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if failing.sentCount() != 1 {
		t.Error("expected Route to still invoke Send despite a prior error-prone channel")
	}
}

func TestLogChannelOnlyMatchesHealthCritical(t *testing.T) {
	ch := NewLogChannel()

	critical := *events.NewEvent(events.EventHealthCritical, "test", "all", events.PriorityCritical, nil)
	normal := *events.NewEvent(events.EventTaskReady, "test", "all", events.PriorityNormal, nil)

	if !ch.ShouldNotify(critical) {
		t.Error("expected log channel to match health:critical")
	}
	if ch.ShouldNotify(normal) {
		t.Error("expected log channel to skip task:ready")
	}
	if err := ch.Send(critical); err != nil {
		t.Errorf("expected log channel Send to never fail, got %v", err)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (e *boomError) Error() string { return "boom" }
