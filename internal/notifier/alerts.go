package notifier

import (
	"fmt"
	"strings"
	"time"

	"herald/internal/eventbus"
	"herald/internal/transport"
)

// alertFor maps an announcement event to an operator alert. Events that need
// no attention report false.
func alertFor(e eventbus.Event) (transport.Notification, bool) {
	ev, ok := e.Data.(eventbus.AnnouncementEvent)
	if !ok {
		return transport.Notification{}, false
	}

	var (
		title    string
		priority int
	)
	switch e.Type {
	case eventbus.AnnouncementFailed:
		title, priority = "Announcement failed", 9
	case eventbus.AnnouncementPartial:
		title, priority = "Announcement partially delivered", 7
	case eventbus.AnnouncementStale:
		title, priority = "Scheduled announcement missed its time", 7
	default:
		return transport.Notification{}, false
	}

	var b strings.Builder
	b.WriteString(title)
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "\n%s: %s", k, v)
		}
	}
	line("id", ev.ID)
	line("channel", ev.ChannelID)
	if ev.ScheduledTime != nil {
		line("scheduled", ev.ScheduledTime.UTC().Format(time.RFC3339))
	}
	line("message", ev.MessageID)
	line("code", ev.Code)
	line("reason", ev.Reason)

	return transport.Notification{Priority: priority, Text: b.String()}, true
}
