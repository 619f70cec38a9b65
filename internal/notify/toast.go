package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/CLIAIMONITOR/cos/internal/events"
)

// ToastChannel raises a Windows toast notification for health:critical
// events. On other platforms Send always errors, so LogChannel is the one
// that actually surfaces the alert there.
type ToastChannel struct {
	appID     string
	statusURL string
}

// NewToastChannel creates a toast channel. statusURL is opened when the
// notification's action is clicked.
func NewToastChannel(statusURL string) *ToastChannel {
	if statusURL == "" {
		statusURL = "http://localhost:8080"
	}
	return &ToastChannel{appID: "cos", statusURL: statusURL}
}

// Name identifies this channel.
func (t *ToastChannel) Name() string { return "toast" }

// ShouldNotify fires only for health:critical.
func (t *ToastChannel) ShouldNotify(event events.Event) bool {
	return event.Type == events.EventHealthCritical
}

// Send pushes a Windows toast notification.
func (t *ToastChannel) Send(event events.Event) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on windows")
	}

	reason, _ := event.Payload["reason"].(string)
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   "cos: health critical",
		Message: reason,
		Audio:   toast.IM,
		Actions: []toast.Action{
			{Type: "protocol", Label: "View Status", Arguments: t.statusURL},
		},
	}
	return notification.Push()
}
