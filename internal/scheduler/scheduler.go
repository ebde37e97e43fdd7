package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Sweeper closes out attempts of tests whose window has ended.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Scheduler runs the expiry sweep on a fixed interval in this process. It is
// single-node by design: several instances sweeping the same database are
// still correct, only redundant.
type Scheduler struct {
	cron     *gocron.Scheduler
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	lastRun time.Time
	lastN   int
	lastErr error
}

func New(sw Sweeper, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		sweeper:  sw,
		interval: interval,
		timeout:  interval,
	}
}

// Start schedules the sweep and returns immediately. With runNow the first
// sweep fires right away instead of one interval later.
func (s *Scheduler) Start(runNow bool) error {
	job := s.cron.Every(s.interval).SingletonMode()
	if !runNow {
		job = job.WaitForSchedule()
	}
	if _, err := job.Do(s.runSweep); err != nil {
		return err
	}
	s.cron.StartAsync()
	log.Printf("[sweep] scheduled every %s", s.interval)
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.RunOnce(ctx)
	if err != nil {
		log.Printf("[sweep] finished with errors (closed=%d): %v", n, err)
	}
}

// RunOnce sweeps now and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n, err := s.sweeper.SweepExpired(ctx)
	s.mu.Lock()
	s.lastRun, s.lastN, s.lastErr = time.Now(), n, err
	s.mu.Unlock()
	return n, err
}

// LastRun reports when the sweep last ran, how many attempts it closed and
// its error, if any.
func (s *Scheduler) LastRun() (time.Time, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastN, s.lastErr
}
