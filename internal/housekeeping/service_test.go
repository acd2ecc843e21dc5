package housekeeping

import (
	"context"
	"sync"
	"testing"
	"time"

	"herald/internal/announce"
	"herald/internal/eventbus"
	logx "herald/pkg/logx"
)

type memReader struct {
	mu    sync.Mutex
	items []announce.Announcement
}

func (m *memReader) ReadAll(context.Context) ([]announce.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]announce.Announcement(nil), m.items...), nil
}

func (m *memReader) set(items ...announce.Announcement) {
	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
}

// staleSet marks the listed IDs stale.
type staleSet map[string]bool

func (s staleSet) Stale(a announce.Announcement) bool { return s[a.ID] }

func pending(id string, at time.Time) announce.Announcement {
	return announce.Announcement{ID: id, ChannelID: "C1", Content: "x", Scheduled: true, ScheduledTime: &at}
}

func drain(ch <-chan eventbus.Event) []string {
	var ids []string
	for {
		select {
		case e := <-ch:
			if e.Type == eventbus.AnnouncementStale {
				ids = append(ids, e.Data.(eventbus.AnnouncementEvent).ID)
			}
		default:
			return ids
		}
	}
}

func TestSweepReportsEachStaleItemOnce(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &memReader{}
	r.set(pending("a", at), pending("b", at), pending("c", at.Add(time.Hour)))
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true}, r, staleSet{"a": true, "b": true}, bus, logx.Nop())
	got, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Sweep() = %v, want [a b]", got)
	}
	if ids := drain(ch); len(ids) != 2 {
		t.Fatalf("stale events = %v", ids)
	}

	got, _ = s.Sweep(context.Background())
	if len(got) != 0 {
		t.Fatalf("second Sweep() = %v, want none", got)
	}
	if ids := drain(ch); len(ids) != 0 {
		t.Fatalf("duplicate stale events = %v", ids)
	}
}

func TestSweepForgetsFinishedItems(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &memReader{}
	a := pending("a", at)
	r.set(a)
	s := New(Config{Enabled: true}, r, staleSet{"a": true}, nil, logx.Nop())
	if got, _ := s.Sweep(context.Background()); len(got) != 1 {
		t.Fatalf("Sweep() = %v", got)
	}

	if err := a.MarkCanceled(at); err != nil {
		t.Fatal(err)
	}
	r.set(a)
	if got, _ := s.Sweep(context.Background()); len(got) != 0 {
		t.Fatalf("canceled item reported: %v", got)
	}
	if len(s.reported) != 0 {
		t.Fatalf("reported set not pruned: %v", s.reported)
	}
}

func TestStartRunsInitialSweep(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &memReader{}
	r.set(pending("a", at))
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Enabled: true, StaleSweep: "@every 1h", Timezone: "UTC"}, r, staleSet{"a": true}, bus, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())
	if ids := drain(ch); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("initial sweep events = %v", ids)
	}
}

func TestStartDisabledAndBadSpec(t *testing.T) {
	t.Parallel()

	r := &memReader{}
	s := New(Config{Enabled: false, StaleSweep: "nonsense"}, r, staleSet{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start() error = %v", err)
	}
	if err := s.Apply(Config{Enabled: true, StaleSweep: "nonsense"}); err == nil {
		t.Fatal("Apply() with a bad spec should fail")
	}
	if err := s.Apply(Config{Enabled: true, StaleSweep: "*/5 * * * *"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	s.Stop(context.Background())

	if err := ValidateSpec("@every 15m"); err != nil {
		t.Fatalf("ValidateSpec() error = %v", err)
	}
	if err := ValidateSpec("61 * * * *"); err == nil {
		t.Fatal("ValidateSpec() accepted an invalid minute")
	}
}
