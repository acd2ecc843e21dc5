// Package housekeeping runs periodic maintenance jobs on a cron schedule.
//
// The only job today is the stale sweep: pending announcements whose time
// has passed with no timer armed are reported once per process.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/announce"
	"herald/internal/eventbus"
	logx "herald/pkg/logx"
)

const DefaultStaleSweep = "@every 15m"

type Config struct {
	Enabled    bool
	StaleSweep string
	Timezone   string
}

// Reader lists stored announcements.
type Reader interface {
	ReadAll(ctx context.Context) ([]announce.Announcement, error)
}

// StaleChecker decides whether a pending announcement has been missed.
type StaleChecker interface {
	Stale(a announce.Announcement) bool
}

type Service struct {
	store  Reader
	sched  StaleChecker
	bus    eventbus.Bus
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	cfg    Config
	parent context.Context
	c      *cron.Cron
	cancel context.CancelFunc

	sweepMu  sync.Mutex
	reported map[string]struct{}
}

func New(cfg Config, store Reader, sched StaleChecker, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		sched: sched,
		bus:   bus,
		log:   log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		reported: map[string]struct{}{},
	}
}

// ValidateSpec reports whether spec parses as a sweep schedule.
func ValidateSpec(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(specOrDefault(spec)); err != nil {
		return fmt.Errorf("stale_sweep %q: %w", spec, err)
	}
	return nil
}

// Start runs one sweep immediately, then on the configured schedule. It is
// a no-op when housekeeping is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec := specOrDefault(s.cfg.StaleSweep)
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("stale_sweep %q: %w", spec, err)
	}
	loc := loadLocation(s.cfg.Timezone, s.log)

	jobCtx, cancel := context.WithCancel(s.parent)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() { s.runSweep(jobCtx) }))
	c.Start()
	s.c, s.cancel = c, cancel

	s.log.Info("housekeeping started", logx.String("stale_sweep", spec), logx.String("tz", loc.String()))
	s.runSweep(jobCtx)
	return nil
}

// Stop stops triggering and waits for a running job until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.parent = nil, nil, nil
	s.mu.Unlock()
	stopCron(ctx, c, cancel)
}

func stopCron(ctx context.Context, c *cron.Cron, cancel context.CancelFunc) {
	if c == nil {
		return
	}
	done := c.Stop().Done()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply swaps the config and restarts the cron when the schedule, zone or
// enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.parent == nil || old == cfg {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopCron(ctx, s.c, s.cancel)
	s.c, s.cancel = nil, nil
	if !cfg.Enabled {
		s.log.Info("housekeeping disabled")
		return nil
	}
	return s.startLocked()
}

func (s *Service) runSweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("stale sweep failed", logx.Err(err))
	}
}

// Sweep reports announcements that went stale since the last sweep and
// returns their IDs. Each ID is reported at most once per process.
func (s *Service) Sweep(ctx context.Context) ([]string, error) {
	items, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	live := make(map[string]struct{}, len(items))
	var fresh []string
	for _, a := range items {
		if !a.Pending() {
			continue
		}
		live[a.ID] = struct{}{}
		if !s.sched.Stale(a) {
			continue
		}
		if _, seen := s.reported[a.ID]; seen {
			continue
		}
		s.reported[a.ID] = struct{}{}
		fresh = append(fresh, a.ID)

		s.log.Warn("stale scheduled announcement",
			logx.String("id", a.ID),
			logx.String("channel", a.ChannelID),
			logx.Time("scheduled_time", *a.ScheduledTime),
			logx.Alerted(),
		)
		eventbus.PublishAnnouncement(s.bus, eventbus.AnnouncementStale, eventbus.AnnouncementEvent{
			ID:            a.ID,
			ChannelID:     a.ChannelID,
			Scheduled:     true,
			ScheduledTime: a.ScheduledTime,
		})
	}
	// Forget items that were canceled or otherwise finished.
	for id := range s.reported {
		if _, ok := live[id]; !ok {
			delete(s.reported, id)
		}
	}
	return fresh, nil
}

func specOrDefault(spec string) string {
	if spec = strings.TrimSpace(spec); spec == "" {
		return DefaultStaleSweep
	}
	return spec
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
