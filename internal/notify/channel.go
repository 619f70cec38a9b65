// Package notify fans health:critical (and other alert-worthy) events out
// to whatever channels are available on the host: a desktop toast on
// Windows, a log line everywhere else.
package notify

import "github.com/CLIAIMONITOR/cos/internal/events"

// Channel is one notification sink.
type Channel interface {
	// Name identifies the channel for logging.
	Name() string

	// ShouldNotify decides whether event is worth this channel's attention.
	ShouldNotify(event events.Event) bool

	// Send delivers the notification. Errors are logged, never propagated —
	// a notification failure must not affect orchestrator state.
	Send(event events.Event) error
}
