// Package scheduler runs proactive credential refreshes on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/config"
)

// RefreshFunc is invoked when an identity's scheduled refresh is due.
type RefreshFunc func(ctx context.Context, identity string) error

// IdentityStatus is the refresh status of one scheduled identity.
type IdentityStatus struct {
	Identity  string    `json:"identity"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages one cron job per identity.
type Scheduler struct {
	cron      *cron.Cron
	refreshFn RefreshFunc
	logger    *zap.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID // identity -> cron entry ID
	schedules map[string]string       // identity -> cron expression
	running   map[string]bool         // identity -> refresh in flight
	lastRun   map[string]time.Time    // identity -> last successful run
	lastErr   map[string]error        // identity -> last error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running refresh goroutines
	started bool
	stopped bool
}

// New creates a Scheduler with the given refresh callback.
func New(refreshFn RefreshFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithParser(newParser())),
		refreshFn: refreshFn,
		logger:    zap.NewNop(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *zap.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddIdentity schedules refreshes for identity, replacing any existing
// schedule.
func (s *Scheduler) AddIdentity(identity, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[identity]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, identity)
		delete(s.schedules, identity)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if !s.claim(identity) {
			return
		}
		s.runRefresh(identity)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[identity] = entryID
	s.schedules[identity] = cronExpr
	s.logger.Info("scheduled refresh",
		zap.String("identity", identity),
		zap.String("schedule", cronExpr),
		zap.Time("next_run", s.cron.Entry(entryID).Next))
	return nil
}

// AddFromConfig schedules the configured owner identity, and the sheet owner
// when it differs. It returns how many identities were scheduled.
func (s *Scheduler) AddFromConfig(cfg *config.Config) (int, error) {
	if cfg.Tokens.RefreshSchedule == "" {
		return 0, nil
	}
	seen := make(map[string]bool)
	for _, id := range []string{cfg.Provider.UserIdentity, cfg.Sheet.OwnerIdentity} {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.AddIdentity(id, cfg.Tokens.RefreshSchedule); err != nil {
			return len(seen) - 1, err
		}
	}
	return len(seen), nil
}

// RemoveIdentity removes the schedule for identity.
func (s *Scheduler) RemoveIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[identity]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, identity)
		delete(s.schedules, identity)
		s.logger.Info("removed schedule", zap.String("identity", identity))
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", n))
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the cron loop, cancels in-flight refreshes, and returns a
// context that is done once all work has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// claim marks identity as running. It fails when a refresh is already in
// flight or the scheduler is stopped.
func (s *Scheduler) claim(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.running[identity] {
		return false
	}
	s.running[identity] = true
	s.wg.Add(1)
	return true
}

// runRefresh executes one refresh. The caller must hold a claim.
func (s *Scheduler) runRefresh(identity string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[identity] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.refreshFn(s.ctx, identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr[identity] = err
		s.logger.Error("scheduled refresh failed",
			zap.String("identity", identity),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.lastRun[identity] = time.Now()
	s.lastErr[identity] = nil
	s.logger.Info("scheduled refresh completed",
		zap.String("identity", identity),
		zap.Duration("duration", time.Since(start)))
}

// IsScheduled reports whether identity has a schedule.
func (s *Scheduler) IsScheduled(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[identity]
	return exists
}

// TriggerRefresh runs a refresh for identity now, outside its schedule.
func (s *Scheduler) TriggerRefresh(identity string) error {
	s.mu.RLock()
	_, exists := s.jobs[identity]
	stopped := s.stopped
	s.mu.RUnlock()

	if stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if !exists {
		return fmt.Errorf("identity %s is not scheduled", identity)
	}
	if !s.claim(identity) {
		return fmt.Errorf("refresh already running for %s", identity)
	}
	go s.runRefresh(identity)
	return nil
}

// Status returns the status of every scheduled identity, sorted by identity.
func (s *Scheduler) Status() []IdentityStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]IdentityStatus, 0, len(s.jobs))
	for identity, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := IdentityStatus{
			Identity: identity,
			Running:  s.running[identity],
			LastRun:  s.lastRun[identity],
			NextRun:  entry.Next,
			Schedule: s.schedules[identity],
		}
		if err := s.lastErr[identity]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Identity < statuses[j].Identity })
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
