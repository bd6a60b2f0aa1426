// Package scheduler runs the hourly AQI collection and the daily
// aggregation on wall-clock schedules in a fixed time zone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jandrishti/aqi-backend/internal/collector"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/timer"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

const (
	HourlyJobID = "fetch_hourly_aqi"
	DailyJobID  = "calculate_daily_averages"
)

// ErrNoWards is reported by a run that had nothing to process
var ErrNoWards = errors.New("no wards to process")

// Collector is the work the scheduler drives
type Collector interface {
	RunHourlyCollection(ctx context.Context) collector.CollectionReport
	RunDailyAggregation(ctx context.Context, date time.Time) collector.AggregationReport
}

// CollectorSource hands out the collector when a job fires
type CollectorSource interface {
	AQICollector() (Collector, error)
}

// JobInfo describes a registered job
type JobInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

// Status is a snapshot of the scheduler
type Status struct {
	Running  bool      `json:"running"`
	TimeZone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}

type job struct {
	id       string
	name     string
	schedule Schedule
	// run executes one firing; due is the instant it was scheduled for
	run func(ctx context.Context, due time.Time) error

	lastRun time.Time
	lastErr string
	runs    int
}

// Scheduler owns the recurring collection jobs
type Scheduler struct {
	source     CollectorSource
	loc        *time.Location
	runOnStart bool
	now        func() time.Time

	mu      sync.Mutex
	running bool
	timers  *timer.Manager
	baseCtx context.Context
	jobs    []*job
}

// New creates a stopped scheduler.
func New(source CollectorSource, cfg config.CollectionConfig) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}

	dailyAt := cfg.DailyAt
	if dailyAt == "" {
		dailyAt = "00:00"
	}
	daily, err := ParseDaily(dailyAt)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		source:     source,
		loc:        loc,
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
	}
	s.jobs = []*job{
		{
			id:       HourlyJobID,
			name:     "Fetch hourly AQI data",
			schedule: Hourly{Minute: cfg.HourlyMinute},
			run: func(ctx context.Context, _ time.Time) error {
				_, err := s.runHourly(ctx)
				return err
			},
		},
		{
			id:       DailyJobID,
			name:     "Calculate daily AQI averages",
			schedule: daily,
			run: func(ctx context.Context, due time.Time) error {
				_, err := s.runDaily(ctx, previousDay(due.In(s.loc)))
				return err
			},
		},
	}
	return s, nil
}

// Start arms both jobs, first running the hourly collection once when
// configured to. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logging.Info().Msg("AQI scheduler already running")
		return nil
	}
	s.running = true
	s.baseCtx = context.WithoutCancel(ctx)
	s.timers = timer.NewManager(len(s.jobs))
	s.timers.Start()
	s.mu.Unlock()

	logging.Info().Str("timezone", s.loc.String()).Msg("AQI scheduler started")

	if s.runOnStart {
		logging.Info().Msg("running initial hourly collection")
		if err := s.execute(s.baseCtx, s.jobs[0], s.bind(s.jobs[0], s.now())); err != nil {
			logging.Warn().Err(err).Msg("initial hourly collection failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if err := s.arm(j); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops future firings. A job that is already running is allowed
// to finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	timers := s.timers
	s.mu.Unlock()

	timers.Stop()
	logging.Info().Msg("AQI scheduler stopped")
}

// arm must be called with s.mu held
func (s *Scheduler) arm(j *job) error {
	if !s.running {
		return nil
	}
	due := j.schedule.Next(s.now().In(s.loc))
	err := s.timers.Schedule(j.id, due, func() { s.fire(j, due) })
	if err != nil {
		return fmt.Errorf("arm job %s: %w", j.id, err)
	}
	logging.Debug().Str("job", j.id).Time("next_run", due).Msg("job armed")
	return nil
}

func (s *Scheduler) fire(j *job, due time.Time) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.execute(ctx, j, s.bind(j, due)); err != nil {
		logging.Error().Err(err).Str("job", j.id).Msg("scheduled job failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.arm(j); err != nil && !errors.Is(err, timer.ErrManagerStopped) {
		logging.Error().Err(err).Str("job", j.id).Msg("failed to re-arm job")
	}
}

// bind binds a job body to the instant it fires for
func (s *Scheduler) bind(j *job, at time.Time) func(context.Context) error {
	return func(ctx context.Context) error { return j.run(ctx, at) }
}

// execute runs one firing of j. Panics are recovered into errors so one bad
// run never stops the schedule.
func (s *Scheduler) execute(ctx context.Context, j *job, run func(context.Context) error) (err error) {
	start := time.Now()
	logging.Info().Str("job", j.id).Msg("job started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, r)
		}

		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metrics.JobRuns.WithLabelValues(j.id, outcome).Inc()
		metrics.JobDuration.WithLabelValues(j.id).Observe(time.Since(start).Seconds())

		s.mu.Lock()
		j.lastRun = s.now()
		j.runs++
		j.lastErr = ""
		if err != nil {
			j.lastErr = err.Error()
		}
		s.mu.Unlock()

		logging.Info().Str("job", j.id).Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("job finished")
	}()

	return run(ctx)
}

func (s *Scheduler) collector() (Collector, error) {
	c, err := s.source.AQICollector()
	if err != nil {
		return nil, fmt.Errorf("acquire collector: %w", err)
	}
	return c, nil
}

func (s *Scheduler) runHourly(ctx context.Context) (collector.CollectionReport, error) {
	c, err := s.collector()
	if err != nil {
		return collector.CollectionReport{}, err
	}
	report := c.RunHourlyCollection(ctx)
	if report.Wards == 0 {
		return report, ErrNoWards
	}
	return report, nil
}

func (s *Scheduler) runDaily(ctx context.Context, date time.Time) (collector.AggregationReport, error) {
	c, err := s.collector()
	if err != nil {
		return collector.AggregationReport{}, err
	}
	report := c.RunDailyAggregation(ctx, date)
	if report.Wards == 0 {
		return report, ErrNoWards
	}
	return report, nil
}

// TriggerHourly runs the hourly collection now, outside the schedule.
func (s *Scheduler) TriggerHourly(ctx context.Context) (collector.CollectionReport, error) {
	var report collector.CollectionReport
	err := s.execute(ctx, s.jobs[0], func(ctx context.Context) error {
		var err error
		report, err = s.runHourly(ctx)
		return err
	})
	return report, err
}

// TriggerDaily aggregates date now. A zero date means yesterday in the
// scheduler's time zone.
func (s *Scheduler) TriggerDaily(ctx context.Context, date time.Time) (collector.AggregationReport, error) {
	if date.IsZero() {
		date = previousDay(s.now().In(s.loc))
	}
	var report collector.AggregationReport
	err := s.execute(ctx, s.jobs[1], func(ctx context.Context) error {
		var err error
		report, err = s.runDaily(ctx, date)
		return err
	})
	return report, err
}

// Jobs lists the registered jobs with their next and last runs
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			ID:        j.id,
			Name:      j.name,
			Schedule:  j.schedule.String(),
			LastRun:   j.lastRun,
			LastError: j.lastErr,
			Runs:      j.runs,
		}
		if s.running {
			if next, ok := s.timers.Next(j.id); ok {
				info.NextRun = next
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Status reports whether the scheduler is running and its jobs
func (s *Scheduler) Status() Status {
	jobs := s.Jobs()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, TimeZone: s.loc.String(), Jobs: jobs}
}
