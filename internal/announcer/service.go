// Package announcer is the entry point for creating, listing and canceling
// announcements. It ties validation, persistence, scheduling and immediate
// delivery together.
package announcer

import (
	"context"
	"errors"
	"time"

	"herald/internal/announce"
	"herald/internal/eventbus"
	"herald/internal/history"
	"herald/internal/render"
	"herald/internal/scheduler"
	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

// Scheduler is the subset of scheduler.Service the announcer drives.
type Scheduler interface {
	Check(at time.Time) error
	Schedule(a announce.Announcement) error
	Cancel(id string) bool
	Stale(a announce.Announcement) bool
}

type Options struct {
	Store      history.Store
	Scheduler  Scheduler
	Dispatcher scheduler.Deliverer
	Bus        eventbus.Bus
	Clock      scheduler.Clock
	Log        logx.Logger
	// NewID overrides ID generation.
	NewID func() string
}

type Service struct {
	store history.Store
	sched Scheduler
	disp  scheduler.Deliverer
	bus   eventbus.Bus
	clock scheduler.Clock
	log   logx.Logger
	newID func() string
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.NewID == nil {
		opts.NewID = announce.NewID
	}
	return &Service{
		store: opts.Store,
		sched: opts.Scheduler,
		disp:  opts.Dispatcher,
		bus:   opts.Bus,
		clock: opts.Clock,
		log:   opts.Log,
		newID: opts.NewID,
	}
}

// Submit validates req and either schedules it or sends it now. Every
// rejection is an *apperr.Error. For a failed immediate send the stored record
// is returned alongside the error.
func (s *Service) Submit(ctx context.Context, req announce.Request) (announce.Announcement, error) {
	now := s.clock.Now().UTC()

	a, err := announce.New(req, s.newID(), now)
	if err != nil {
		s.reject(req, err)
		return announce.Announcement{}, err
	}
	if a.Scheduled {
		if err := s.sched.Check(*a.ScheduledTime); err != nil {
			s.reject(req, err)
			return announce.Announcement{}, err
		}
	}

	if err := s.store.Append(ctx, *a); err != nil {
		s.log.Error("history append failed", logx.String("id", a.ID), logx.Err(err))
		return announce.Announcement{}, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not record announcement")
	}
	log := s.log.With(logx.String("id", a.ID), logx.String("channel", a.ChannelID))

	if a.Scheduled {
		return s.schedule(ctx, log, *a)
	}
	return s.deliverNow(ctx, log, *a)
}

func (s *Service) schedule(ctx context.Context, log logx.Logger, a announce.Announcement) (announce.Announcement, error) {
	if err := s.sched.Schedule(a); err != nil {
		// The record exists already; close it out so it never looks pending.
		reason := err.Error()
		if _, uerr := s.store.Update(ctx, a.ID, func(cur *announce.Announcement) error {
			return cur.MarkFailed(s.clock.Now().UTC(), reason)
		}); uerr != nil {
			log.Error("history update failed", logx.Err(uerr))
		}
		log.Warn("schedule rejected", logx.Err(err))
		if ae := apperr.FromError(err); ae.Code != apperr.ErrInternal.Code {
			return announce.Announcement{}, ae
		}
		return announce.Announcement{}, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not schedule announcement")
	}
	log.Info("announcement scheduled", logx.Time("at", *a.ScheduledTime))
	eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementScheduled, eventbus.AnnouncementEvent{
		ID:            a.ID,
		ChannelID:     a.ChannelID,
		Scheduled:     true,
		ScheduledTime: a.ScheduledTime,
	})
	return a, nil
}

func (s *Service) deliverNow(ctx context.Context, log logx.Logger, a announce.Announcement) (announce.Announcement, error) {
	res := s.disp.Deliver(ctx, render.Build(&a), a.ChannelID)
	now := s.clock.Now().UTC()

	updated, err := s.store.Update(ctx, a.ID, func(cur *announce.Announcement) error {
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
		log.Error("history update failed", logx.Err(err), logx.Bool("delivered", res.Delivered))
		updated = a
	}

	ev := eventbus.AnnouncementEvent{
		ID:        a.ID,
		ChannelID: a.ChannelID,
		MessageID: res.MessageID,
		Code:      res.Code,
		Reason:    res.Reason,
	}
	switch {
	case res.Delivered && res.Partial:
		log.Warn("announcement partially sent", logx.String("reason", res.Reason), logx.Alerted())
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementPartial, ev)
	case res.Delivered:
		log.Info("announcement sent", logx.String("message_id", res.MessageID))
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementSent, ev)
	default:
		log.Warn("announcement delivery failed", logx.String("code", res.Code), logx.String("reason", res.Reason), logx.Alerted())
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementFailed, ev)
		return updated, res.Err()
	}
	return updated, nil
}

// Cancel withdraws a pending announcement. It reports false when nothing was
// pending: the item already fired, was canceled, or does not exist.
//
// A pending item with a live timer is canceled by disarming the timer. An
// overdue item that no timer tracks (left over from downtime) may also be
// withdrawn. If the history write fails the item stays pending without a
// timer, so it is reported as stale and can be canceled again.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	if !s.sched.Cancel(id) {
		a, err := s.store.Get(ctx, id)
		if errors.Is(err, history.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not load announcement")
		}
		if !s.sched.Stale(a) {
			return false, nil
		}
	}

	err := s.markCanceled(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, announce.ErrTerminal), errors.Is(err, history.ErrNotFound):
		// A fire finished first.
		return false, nil
	default:
		return false, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not record cancellation")
	}
}

func (s *Service) markCanceled(ctx context.Context, id string) error {
	now := s.clock.Now().UTC()
	a, err := s.store.Update(ctx, id, func(cur *announce.Announcement) error {
		return cur.MarkCanceled(now)
	})
	if err != nil {
		if !errors.Is(err, announce.ErrTerminal) {
			s.log.Warn("cancel: history update failed", logx.String("id", id), logx.Err(err))
		}
		return err
	}
	s.log.Info("announcement canceled", logx.String("id", id))
	eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementCanceled, eventbus.AnnouncementEvent{
		ID:            id,
		ChannelID:     a.ChannelID,
		Scheduled:     a.Scheduled,
		ScheduledTime: a.ScheduledTime,
	})
	return nil
}

// List returns up to limit announcements, newest first. limit <= 0 returns all.
func (s *Service) List(ctx context.Context, limit int) ([]announce.Announcement, error) {
	items, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not read history")
	}
	out := make([]announce.Announcement, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (announce.Announcement, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return a, apperr.Clone(apperr.ErrNotFound, "announcement "+id+" not found")
	}
	if err != nil {
		return a, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not load announcement")
	}
	return a, nil
}

func (s *Service) reject(req announce.Request, err error) {
	code := apperr.FromError(err).Code
	s.log.Info("announcement rejected", logx.String("channel", req.ChannelID), logx.String("code", code), logx.Err(err))
	eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementRejected, eventbus.AnnouncementEvent{
		ChannelID: req.ChannelID,
		Code:      code,
		Reason:    err.Error(),
	})
}
