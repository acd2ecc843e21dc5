package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Announcement lifecycle event types.
const (
	AnnouncementScheduled = "announcement.scheduled"
	AnnouncementSent      = "announcement.sent"
	AnnouncementPartial   = "announcement.partial"
	AnnouncementFailed    = "announcement.failed"
	AnnouncementCanceled  = "announcement.canceled"
	AnnouncementRejected  = "announcement.rejected"
	AnnouncementStale     = "announcement.stale"
)

// ConfigReloaded is published after a new config is committed.
const ConfigReloaded = "config.reloaded"

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// AnnouncementEvent is the Data carried by announcement.* events.
type AnnouncementEvent struct {
	ID            string
	ChannelID     string
	MessageID     string
	Scheduled     bool
	ScheduledTime *time.Time
	Code          string
	Reason        string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// PublishAnnouncement is shorthand for publishing an announcement.* event.
func PublishAnnouncement(b Bus, typ string, ev AnnouncementEvent) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: ev})
}
