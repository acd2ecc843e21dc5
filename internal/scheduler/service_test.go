package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"herald/internal/announce"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/history"
	"herald/internal/platform"
	"herald/internal/platform/platformtest"
	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock *ManualClock
	fake  *platformtest.Fake
	store history.Store
	bus   *eventbus.MemBus
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := history.Open(history.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		clock: NewManualClock(epoch),
		fake:  platformtest.NewFake(),
		store: st,
		bus:   eventbus.New(),
	}
	h.fake.AddTextChannel("C1")
	h.svc = New(Options{
		Clock:      h.clock,
		Store:      st,
		Dispatcher: dispatch.New(h.fake, time.Second, logx.Nop()),
		Bus:        h.bus,
	})
	return h
}

func (h *harness) add(t *testing.T, id string, in time.Duration) announce.Announcement {
	t.Helper()
	at := h.clock.Now().Add(in)
	a, err := announce.New(announce.Request{ChannelID: "C1", Content: "hi " + id, ScheduledTime: &at}, id, h.clock.Now())
	if err != nil {
		t.Fatalf("announce.New() error = %v", err)
	}
	if err := h.store.Append(context.Background(), *a); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return *a
}

func (h *harness) get(t *testing.T, id string) announce.Announcement {
	t.Helper()
	a, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return a
}

func TestScheduleRejectsPastAndHorizon(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name string
		in   time.Duration
		want *apperr.Error
	}{
		{name: "now", in: 0, want: apperr.ErrPastTime},
		{name: "past", in: -time.Minute, want: apperr.ErrPastTime},
		{name: "beyond horizon", in: MaxDelay + time.Millisecond, want: apperr.ErrHorizonExceeded},
		{name: "far beyond horizon", in: 30 * 24 * time.Hour, want: apperr.ErrHorizonExceeded},
	}
	for _, tt := range tests {
		at := epoch.Add(tt.in)
		a := announce.Announcement{ID: tt.name, ChannelID: "C1", Content: "x", Scheduled: true, ScheduledTime: &at}
		if err := h.svc.Schedule(a); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Schedule() = %v, want %v", tt.name, err, tt.want)
		}
	}
	if h.clock.Armed() != 0 || h.svc.Len() != 0 {
		t.Fatalf("timers armed after rejection: clock=%d svc=%d", h.clock.Armed(), h.svc.Len())
	}

	at := epoch.Add(MaxDelay)
	if err := h.svc.Schedule(announce.Announcement{ID: "edge", Scheduled: true, ScheduledTime: &at}); err != nil {
		t.Fatalf("Schedule() at exact horizon = %v", err)
	}
}

func TestFireSendsOnceAndMarksSent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()

	a := h.add(t, "a", 10*time.Second)
	if err := h.svc.Schedule(a); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if got := h.svc.Pending(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Pending() = %v", got)
	}

	h.clock.Advance(9 * time.Second)
	if h.fake.SendCount() != 0 {
		t.Fatal("fired early")
	}
	h.clock.Advance(time.Second)
	h.clock.Advance(time.Minute)

	if got := h.fake.SendCount(); got != 1 {
		t.Fatalf("SendCount() = %d, want 1", got)
	}
	got := h.get(t, "a")
	if got.State() != announce.StateSent || got.SentAt == nil || got.MessageID != "msg-1" {
		t.Fatalf("stored = %+v, want sent", got)
	}
	if h.svc.Len() != 0 {
		t.Fatalf("Len() = %d after fire", h.svc.Len())
	}
	select {
	case e := <-events:
		if e.Type != eventbus.AnnouncementSent {
			t.Fatalf("event = %s", e.Type)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	a := h.add(t, "a", 10*time.Second)
	if err := h.svc.Schedule(a); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !h.svc.Cancel("a") {
		t.Fatal("Cancel() = false, want true")
	}
	if h.svc.Cancel("a") {
		t.Fatal("second Cancel() = true, want false")
	}
	if h.svc.Cancel("never-existed") {
		t.Fatal("Cancel(unknown) = true")
	}

	h.clock.Advance(time.Hour)
	if h.fake.SendCount() != 0 {
		t.Fatalf("SendCount() = %d, want 0", h.fake.SendCount())
	}
}

func TestFireSkipsFinishedItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	a := h.add(t, "a", time.Second)
	if err := h.svc.Schedule(a); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.Update(context.Background(), "a", func(x *announce.Announcement) error {
		return x.MarkCanceled(epoch)
	}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second)
	if h.fake.SendCount() != 0 {
		t.Fatal("canceled item was sent")
	}
}

func TestFireFailureMarksFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()
	h.fake.SendErr = func(int, *platform.Message) error { return errors.New("rate limited") }

	a := h.add(t, "a", time.Second)
	if err := h.svc.Schedule(a); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second)

	got := h.get(t, "a")
	if got.State() != announce.StateFailed || got.FailedAt == nil || got.Error == "" {
		t.Fatalf("stored = %+v, want failed", got)
	}
	e := <-events
	if e.Type != eventbus.AnnouncementFailed {
		t.Fatalf("event = %s, want failed", e.Type)
	}
	if ev := e.Data.(eventbus.AnnouncementEvent); ev.Code != apperr.ErrDelivery.Code {
		t.Fatalf("Code = %s", ev.Code)
	}
}

func TestRecoverRearmsFutureAndReportsStale(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.add(t, "future", time.Hour)
	h.add(t, "stale", time.Minute)
	done := h.add(t, "done", 2*time.Hour)
	if _, err := h.store.Update(ctx, done.ID, func(x *announce.Announcement) error { return x.MarkCanceled(epoch) }); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Append(ctx, announce.Announcement{ID: "immediate", ChannelID: "C1", Content: "x", CreatedAt: epoch}); err != nil {
		t.Fatal(err)
	}

	// Simulate downtime past the stale item's time.
	svc := New(Options{
		Clock:      NewManualClock(epoch.Add(2 * time.Minute)),
		Store:      h.store,
		Dispatcher: dispatch.New(h.fake, time.Second, logx.Nop()),
	})
	rep, err := svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if rep.Rearmed != 1 || len(rep.Stale) != 1 || rep.Stale[0] != "stale" {
		t.Fatalf("Recover() = %+v", rep)
	}
	if !svc.Armed("future") || svc.Armed("stale") || svc.Armed("done") {
		t.Fatalf("Pending() = %v", svc.Pending())
	}
	if got := h.get(t, "stale"); got.State() != announce.StatePending {
		t.Fatalf("stale item state = %v, want pending", got.State())
	}
}

func TestStopDisarmsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, id := range []string{"a", "b"} {
		if err := h.svc.Schedule(h.add(t, id, time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	h.clock.Advance(time.Hour)
	if h.fake.SendCount() != 0 || h.svc.Len() != 0 {
		t.Fatalf("sends=%d timers=%d after Stop", h.fake.SendCount(), h.svc.Len())
	}
	if err := h.svc.Schedule(h.add(t, "c", time.Minute)); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule() after Stop = %v, want ErrStopped", err)
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	a := h.add(t, "a", time.Minute)
	if err := h.svc.Schedule(a); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.Schedule(a); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Minute)
	if got := h.fake.SendCount(); got != 1 {
		t.Fatalf("SendCount() = %d, want 1", got)
	}
}
