// Package scheduler owns the in-memory one-shot timers for pending
// announcements and fires them through the dispatcher.
//
// The history store stays the source of truth: a timer only says "look at
// this announcement at time T". On fire, the stored record decides whether a
// send still happens.
package scheduler

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"herald/internal/announce"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/history"
	"herald/internal/render"
	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

// MaxDelay is the longest single delay a timer accepts (2^31-1 ms, ~24.8 days).
const MaxDelay = time.Duration(math.MaxInt32) * time.Millisecond

var ErrStopped = errors.New("scheduler stopped")

// Deliverer sends one rendered payload.
type Deliverer interface {
	Deliver(ctx context.Context, p render.Payload, channelID string) dispatch.Result
}

type Options struct {
	Clock      Clock
	Store      history.Store
	Dispatcher Deliverer
	Bus        eventbus.Bus
	Log        logx.Logger
}

type Service struct {
	clock Clock
	store history.Store
	disp  Deliverer
	bus   eventbus.Bus
	log   logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timers   map[string]*entry
	running  map[string]struct{}
	ver      uint64
	stopped  bool
	inflight sync.WaitGroup
}

type entry struct {
	timer Timer
	ver   uint64
	at    time.Time
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		clock:   opts.Clock,
		store:   opts.Store,
		disp:    opts.Dispatcher,
		bus:     opts.Bus,
		log:     opts.Log,
		ctx:     ctx,
		cancel:  cancel,
		timers:  map[string]*entry{},
		running: map[string]struct{}{},
	}
}

// Check validates a schedule time against the clock and the timer horizon.
func (s *Service) Check(at time.Time) error {
	now := s.clock.Now()
	if !at.After(now) {
		return apperr.ErrPastTime
	}
	if at.Sub(now) > MaxDelay {
		return apperr.ErrHorizonExceeded
	}
	return nil
}

// Schedule arms a timer for a pending announcement, replacing any existing one.
func (s *Service) Schedule(a announce.Announcement) error {
	if !a.Scheduled || a.ScheduledTime == nil {
		return apperr.Clone(apperr.ErrValidation, "announcement has no scheduled time")
	}
	at := *a.ScheduledTime
	if err := s.Check(at); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if old, ok := s.timers[a.ID]; ok {
		_ = old.timer.Stop()
	}
	s.ver++
	ver := s.ver
	id := a.ID
	d := at.Sub(s.clock.Now())
	s.timers[id] = &entry{
		timer: s.clock.AfterFunc(d, func() { s.fire(id, ver) }),
		ver:   ver,
		at:    at,
	}
	s.log.Debug("timer armed", logx.String("id", id), logx.Time("at", at), logx.Duration("in", d))
	return nil
}

// Cancel disarms the timer for id. It returns false when no live timer exists
// (already fired, canceled, or never scheduled).
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	_ = e.timer.Stop()
	delete(s.timers, id)
	return true
}

// Armed reports whether id has a live timer.
func (s *Service) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Busy reports whether id has a live timer or a fire in progress.
func (s *Service) Busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, armed := s.timers[id]
	_, running := s.running[id]
	return armed || running
}

// Stale reports whether a is pending, overdue, and not tracked by any timer.
func (s *Service) Stale(a announce.Announcement) bool {
	if !a.Pending() || a.ScheduledTime.After(s.clock.Now()) {
		return false
	}
	return !s.Busy(a.ID)
}

// Pending returns the IDs with live timers, soonest first.
func (s *Service) Pending() []string {
	s.mu.Lock()
	type item struct {
		id string
		at time.Time
	}
	items := make([]item, 0, len(s.timers))
	for id, e := range s.timers {
		items = append(items, item{id: id, at: e.at})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.Before(items[j].at)
		}
		return items[i].id < items[j].id
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer and waits for fires already in progress. If ctx
// expires first, in-flight sends are canceled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	n := len(s.timers)
	for id, e := range s.timers {
		_ = e.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.log.Info("scheduler stopping", logx.Int("disarmed", n))

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) fire(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok || e.ver != ver || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.running[id] = struct{}{}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		s.inflight.Done()
	}()

	s.run(s.ctx, id)
}

func (s *Service) run(ctx context.Context, id string) {
	log := s.log.With(logx.String("id", id))

	a, err := s.store.Get(ctx, id)
	if err != nil {
		log.Error("scheduled fire: load failed", logx.Err(err))
		return
	}
	if a.Finished() {
		log.Info("scheduled fire skipped", logx.String("state", string(a.State())))
		return
	}

	res := s.disp.Deliver(ctx, render.Build(&a), a.ChannelID)
	now := s.clock.Now().UTC()

	_, err = s.store.Update(ctx, id, func(cur *announce.Announcement) error {
		if res.Delivered {
			if err := cur.MarkSent(now, res.MessageID); err != nil {
				return err
			}
			if res.Partial {
				cur.Error = res.Reason
			}
			return nil
		}
		return cur.MarkFailed(now, res.Reason)
	})
	if err != nil {
		log.Error("scheduled fire: history update failed", logx.Err(err), logx.Bool("delivered", res.Delivered))
	}
	ev := eventbus.AnnouncementEvent{
		ID:            id,
		ChannelID:     a.ChannelID,
		MessageID:     res.MessageID,
		Scheduled:     true,
		ScheduledTime: a.ScheduledTime,
		Code:          res.Code,
		Reason:        res.Reason,
	}
	switch {
	case res.Delivered && res.Partial:
		log.Warn("scheduled announcement partially sent", logx.String("reason", res.Reason), logx.Alerted())
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementPartial, ev)
	case res.Delivered:
		log.Info("scheduled announcement sent", logx.String("channel", a.ChannelID), logx.String("message_id", res.MessageID))
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementSent, ev)
	default:
		log.Error("scheduled announcement failed", logx.String("code", res.Code), logx.String("reason", res.Reason), logx.Alerted())
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementFailed, ev)
	}
}

// RecoverReport summarizes one startup recovery pass.
type RecoverReport struct {
	Rearmed int
	Stale   []string
	Errors  int
}

// Recover re-arms every stored announcement that is still pending with a
// future time. Items whose time passed while the process was down are left
// pending and reported as stale; they are never fired automatically.
func (s *Service) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	items, err := s.store.ReadAll(ctx)
	if err != nil {
		return rep, err
	}
	now := s.clock.Now()
	for _, a := range items {
		if !a.Pending() {
			continue
		}
		if !a.ScheduledTime.After(now) {
			rep.Stale = append(rep.Stale, a.ID)
			s.log.Warn("stale scheduled announcement left pending",
				logx.String("id", a.ID),
				logx.Time("scheduled_time", *a.ScheduledTime),
			)
			continue
		}
		if err := s.Schedule(a); err != nil {
			rep.Errors++
			s.log.Error("re-arm failed", logx.String("id", a.ID), logx.Err(err))
			continue
		}
		rep.Rearmed++
	}
	s.log.Info("recovery finished",
		logx.Int("rearmed", rep.Rearmed),
		logx.Int("stale", len(rep.Stale)),
		logx.Int("errors", rep.Errors),
	)
	return rep, nil
}
