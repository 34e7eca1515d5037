package media

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically deletes temp files nobody consumed, such as photos
// whose follow-up action never arrived.
type Sweeper struct {
	store    *TempStore
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper builds a sweeper; call Start to schedule it.
func NewSweeper(store *TempStore, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
	}
}

// Start schedules the sweep. Calling Start twice is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("temp sweeper started", "interval", s.interval.String(), "max_age", s.maxAge.String())
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Sweep runs one pass and returns the number of files removed.
func (s *Sweeper) Sweep() int {
	removed, err := s.store.RemoveOlderThan(s.now().Add(-s.maxAge))
	if err != nil {
		s.logger.Warn("temp sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.Info("removed expired temp files", "count", removed)
	}
	return removed
}
