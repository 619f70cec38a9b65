package notify

import (
	"log"

	"github.com/CLIAIMONITOR/cos/internal/events"
)

// LogChannel always succeeds — the fallback every platform has, used
// alongside ToastChannel so an alert is never silently dropped on a
// non-Windows host.
type LogChannel struct{}

// NewLogChannel creates the always-available log channel.
func NewLogChannel() *LogChannel { return &LogChannel{} }

// Name identifies this channel.
func (l *LogChannel) Name() string { return "log" }

// ShouldNotify fires for health:critical.
func (l *LogChannel) ShouldNotify(event events.Event) bool {
	return event.Type == events.EventHealthCritical
}

// Send writes the alert to the standard logger.
func (l *LogChannel) Send(event events.Event) error {
	log.Printf("[ALERT] %s: %v", event.Type, event.Payload)
	return nil
}
