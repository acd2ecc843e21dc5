package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"herald/internal/eventbus"
	"herald/internal/transport"
	logx "herald/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	calls int
	texts []string
	sent  chan string
}

func newFakeSender(fails int) *fakeSender {
	return &fakeSender{fails: fails, sent: make(chan string, 16)}
}

func (f *fakeSender) SendText(_ context.Context, to transport.Target, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.calls++
	if f.calls <= f.fails {
		f.mu.Unlock()
		return transport.MessageRef{}, errors.New("telegram down")
	}
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	select {
	case f.sent <- text:
	default:
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Target:        transport.Target{ChatID: 100},
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func waitSent(t *testing.T, f *fakeSender) string {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not sent")
		return ""
	}
}

func TestDisabledIsInert(t *testing.T) {
	t.Parallel()

	f := newFakeSender(0)
	s := New(Config{Enabled: false}, f, eventbus.New(), logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify() error = %v, want ErrDisabled", err)
	}
	if f.Calls() != 0 {
		t.Fatal("disabled notifier must not send")
	}
}

func TestNotifyRetriesThenDelivers(t *testing.T) {
	t.Parallel()

	f := newFakeSender(2)
	s := New(testConfig(), f, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Priority: 9, Text: "boom"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got := waitSent(t, f); got != "🚨 boom" {
		t.Fatalf("sent %q", got)
	}
	if f.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", f.Calls())
	}
}

func TestNotifyGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()

	f := newFakeSender(10)
	cfg := testConfig()
	cfg.RetryMax = 1
	s := New(cfg, f, nil, logx.Nop())
	s.Start(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if f.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", f.Calls())
	}
	if err := s.Notify(context.Background(), transport.Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() after Stop error = %v, want ErrStopped", err)
	}
}

func TestBusEventsBecomeAlerts(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	f := newFakeSender(0)
	s := New(testConfig(), f, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ev := eventbus.AnnouncementEvent{ID: "a1", ChannelID: "c1", Code: "CHANNEL_NOT_FOUND", Reason: "gone"}
	// The consumer subscribes asynchronously; republish until it is listening.
	deadline := time.After(2 * time.Second)
	for {
		eventbus.PublishAnnouncement(bus, eventbus.AnnouncementSent, ev)
		eventbus.PublishAnnouncement(bus, eventbus.AnnouncementFailed, ev)
		select {
		case got := <-f.sent:
			if !strings.HasPrefix(got, "🚨 Announcement failed") || !strings.Contains(got, "id: a1") || !strings.Contains(got, "code: CHANNEL_NOT_FOUND") {
				t.Fatalf("alert = %q", got)
			}
			return
		case <-deadline:
			t.Fatal("no alert for announcement.failed")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestAlertFor(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := eventbus.AnnouncementEvent{ID: "a1", ChannelID: "c1", ScheduledTime: &at}
	tests := []struct {
		typ      string
		want     bool
		priority int
	}{
		{eventbus.AnnouncementFailed, true, 9},
		{eventbus.AnnouncementPartial, true, 7},
		{eventbus.AnnouncementStale, true, 7},
		{eventbus.AnnouncementSent, false, 0},
		{eventbus.AnnouncementScheduled, false, 0},
	}
	for _, tt := range tests {
		n, ok := alertFor(eventbus.Event{Type: tt.typ, Data: ev})
		if ok != tt.want || n.Priority != tt.priority {
			t.Fatalf("alertFor(%s) = %+v, %v", tt.typ, n, ok)
		}
	}
	n, _ := alertFor(eventbus.Event{Type: eventbus.AnnouncementStale, Data: ev})
	if !strings.Contains(n.Text, "scheduled: 2026-01-02T03:04:05Z") {
		t.Fatalf("stale alert text = %q", n.Text)
	}
	if _, ok := alertFor(eventbus.Event{Type: eventbus.AnnouncementFailed, Data: "junk"}); ok {
		t.Fatal("non-announcement payload should be ignored")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want 100ms ±30%%", d)
	}
}
