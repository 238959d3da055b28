package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-aware-tasks/internal/cache"
	"github.com/i474232898/weather-aware-tasks/internal/impact"
	"github.com/i474232898/weather-aware-tasks/internal/lifecycle"
	"github.com/i474232898/weather-aware-tasks/internal/logger"
	"github.com/i474232898/weather-aware-tasks/internal/task"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// TaskLister supplies the tasks RecheckAll works through.
type TaskLister interface {
	List(states ...task.State) []task.Task
}

// Result is the outcome of rechecking one task.
type Result struct {
	Task    task.Task       `json:"task"`
	Verdict *impact.Verdict `json:"verdict,omitempty"`
	Event   lifecycle.Event `json:"event,omitempty"` // transition fired, empty if none
	Skipped bool            `json:"skipped,omitempty"`
	Err     error           `json:"-"`
}

// Scheduler ties the weather cache, the impact evaluator and the lifecycle machine together,
// and optionally runs a periodic recheck of every active task.
type Scheduler struct {
	cache     *cache.WeatherCache
	evaluator *impact.Evaluator
	machine   *lifecycle.Machine
	tasks     TaskLister
	fetch     cache.FetchFunc
	now       func() time.Time

	// maxParallel bounds concurrent evaluations in one recheck.
	maxParallel int

	cron *gocron.Scheduler
}

// New creates a new Scheduler. fetch is the default provider capability used by Evaluate
// and RecheckAll.
func New(c *cache.WeatherCache, ev *impact.Evaluator, m *lifecycle.Machine, tasks TaskLister, fetch cache.FetchFunc) *Scheduler {
	return &Scheduler{
		cache:       c,
		evaluator:   ev,
		machine:     m,
		tasks:       tasks,
		fetch:       fetch,
		now:         func() time.Time { return time.Now().UTC() },
		maxParallel: 8,
	}
}

// Evaluate checks one task against the weather at its location without changing its state.
func (s *Scheduler) Evaluate(ctx context.Context, t task.Task) (impact.Verdict, error) {
	snap, err := s.snapshotFor(ctx, t, s.fetch)
	if err != nil {
		return impact.Verdict{}, err
	}
	return s.evaluator.Evaluate(t, snap, s.now()), nil
}

// RecheckAll rechecks every task that is waiting on the weather.
func (s *Scheduler) RecheckAll(ctx context.Context) []Result {
	return s.Recheck(ctx, s.tasks.List(task.StateScheduled, task.StateWeatherDelayed), s.fetch)
}

// Recheck evaluates each task and feeds the verdict into the lifecycle machine:
// a SCHEDULED task whose verdict blocks it is moved to WEATHER_DELAYED, and a
// WEATHER_DELAYED task whose verdict is favorable or suggests a new date is moved to
// RESCHEDULED. Other tasks are returned unchanged and marked skipped. A failure on one
// task is recorded in its Result and never stops the rest of the batch. Results are in
// input order.
func (s *Scheduler) Recheck(ctx context.Context, tasks []task.Task, fetch cache.FetchFunc) []Result {
	results := make([]Result, len(tasks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.parallelism())
	for i, t := range tasks {
		if t.State != task.StateScheduled && t.State != task.StateWeatherDelayed {
			results[i] = Result{Task: t, Skipped: true}
			continue
		}

		wg.Add(1)
		go func(i int, t task.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = s.recheckOne(ctx, t, fetch)
		}(i, t)
	}
	wg.Wait()

	return results
}

func (s *Scheduler) recheckOne(ctx context.Context, t task.Task, fetch cache.FetchFunc) Result {
	res := Result{Task: t}

	snap, err := s.snapshotFor(ctx, t, fetch)
	if err != nil {
		logger.Warn("recheck: no weather for task", "task", t.ID, "location", t.Location, "err", err)
		res.Err = err
		return res
	}

	v := s.evaluator.Evaluate(t, snap, s.now())
	res.Verdict = &v

	var ev lifecycle.Event
	switch {
	case t.State == task.StateScheduled && !v.CanProceed:
		ev = lifecycle.EventWeatherBlock
	case t.State == task.StateWeatherDelayed && (v.CanProceed || v.SuggestedDate != nil):
		ev = lifecycle.EventWeatherClearReschedule
	default:
		return res
	}

	updated, err := s.machine.Fire(t.ID, ev, lifecycle.Input{
		Verdict:       &v,
		ScheduledDate: t.ScheduledDate,
		Location:      t.Location,
	})
	if err != nil {
		logger.Warn("recheck: transition rejected", "task", t.ID, "event", ev, "err", err)
		res.Err = err
		return res
	}
	res.Task = updated
	res.Event = ev
	return res
}

// snapshotFor returns the weather for t's location. Indoor work never needs the provider.
func (s *Scheduler) snapshotFor(ctx context.Context, t task.Task, fetch cache.FetchFunc) (weather.Snapshot, error) {
	if t.Category == task.CategoryIndoor {
		return weather.Snapshot{Location: t.Location}, nil
	}
	return s.cache.GetOrRefresh(ctx, t.Location, fetch)
}

// Start schedules RecheckAll every interval. A non-positive interval disables it.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		logger.Info("scheduler: periodic recheck disabled")
		return nil
	}

	// A second Start replaces the running job instead of leaking it.
	s.Stop()

	s.cron = gocron.NewScheduler(time.UTC)
	_, err := s.cron.Every(interval).Do(func() {
		logger.Info("scheduler: running weather recheck job")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var transitioned, failed int
		for _, r := range s.RecheckAll(ctx) {
			if r.Event != "" {
				transitioned++
			}
			if r.Err != nil {
				failed++
			}
		}
		logger.Info("scheduler: completed weather recheck job", "transitioned", transitioned, "failed", failed)
	})
	if err != nil {
		return err
	}

	s.cron.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Scheduler) parallelism() int {
	if s.maxParallel <= 0 {
		return 1
	}
	return s.maxParallel
}
