// Package autotag creates global tags on a cron schedule.
//
// Each run freezes the store at the run's wall-clock instant under the name
// <prefix>-<UTC timestamp>. Schedules with a seconds field get millisecond
// timestamps so that runs inside one second do not collide. Otherwise names
// have one-second resolution and a second run in the same second fails with
// a duplicate name.
package autotag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/logging"
)

// Timestamp suffixes of generated tag names, always in UTC.
const (
	TimestampLayout        = "20060102T150405Z"
	PreciseTimestampLayout = "20060102T150405.000Z"
)

// DefaultPrefix names tags when Options.Prefix is empty.
const DefaultPrefix = "auto"

// Tagger creates global tags. catalog.Service satisfies it.
type Tagger interface {
	CreateGlobalTag(ctx context.Context, name string, reference *time.Time) (*conditions.GlobalTag, error)
}

// Options configures a Scheduler.
type Options struct {
	Tagger Tagger

	// Cron is a six-field (with seconds) or five-field cron expression.
	Cron   string
	Prefix string

	Clock  clockwork.Clock
	Logger *slog.Logger

	// Timeout bounds each run. Zero means one minute.
	Timeout time.Duration
}

// Scheduler runs tag creation on a cron schedule.
type Scheduler struct {
	tagger    Tagger
	prefix    string
	clock     clockwork.Clock
	logger    *slog.Logger
	timeout   time.Duration
	layout    string
	scheduler gocron.Scheduler
}

// ValidateCron reports whether expr is a usable cron expression.
func ValidateCron(expr string) error {
	cr := gocron.NewDefaultCron(true)
	if err := cr.IsValid(expr, time.UTC, time.Now()); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// New validates opts and registers the tagging job. Call Start to begin.
func New(opts Options) (*Scheduler, error) {
	if opts.Tagger == nil {
		return nil, fmt.Errorf("autotag: tagger is required")
	}
	if err := ValidateCron(opts.Cron); err != nil {
		return nil, err
	}
	s := &Scheduler{
		tagger:  opts.Tagger,
		prefix:  opts.Prefix,
		clock:   opts.Clock,
		logger:  logging.Default(opts.Logger).With("component", "autotag"),
		timeout: opts.Timeout,
		layout:  nameLayout(opts.Cron),
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.timeout <= 0 {
		s.timeout = time.Minute
	}

	sched, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.CronJob(opts.Cron, true),
		gocron.NewTask(s.run),
		gocron.WithName("autotag:"+s.prefix),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("create autotag job: %w", err)
	}
	s.scheduler = sched
	s.logger.Info("autotag job added", "cron", opts.Cron, "prefix", s.prefix)
	return s, nil
}

// Start begins executing the schedule.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// Name returns the tag name for a run at t.
func (s *Scheduler) Name(t time.Time) string {
	return s.prefix + "-" + t.UTC().Format(s.layout)
}

// nameLayout picks the timestamp layout for expr. Six fields means the
// schedule can fire more than once a minute.
func nameLayout(expr string) string {
	if len(strings.Fields(expr)) == 6 {
		return PreciseTimestampLayout
	}
	return TimestampLayout
}

// RunOnce creates one tag for the current instant.
func (s *Scheduler) RunOnce(ctx context.Context) (*conditions.GlobalTag, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock.Now().UTC()
	return s.tagger.CreateGlobalTag(ctx, s.Name(now), &now)
}

func (s *Scheduler) run() {
	tag, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.Error("autotag run failed", "error", err)
		return
	}
	s.logger.Info("autotag created tag", "tag", tag.Name, "entries", len(tag.Entries))
}
