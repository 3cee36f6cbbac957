package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/recoverybot/internal/config"
)

func noop(ctx context.Context, identity string) error { return nil }

func TestAddIdentity(t *testing.T) {
	s := New(noop)

	if err := s.AddIdentity("owner@example.com", "*/10 * * * *"); err != nil {
		t.Fatalf("AddIdentity() with valid cron = %v", err)
	}
	if !s.IsScheduled("owner@example.com") {
		t.Error("identity was not scheduled")
	}
	if err := s.AddIdentity("owner@example.com", "invalid cron"); err == nil {
		t.Error("AddIdentity() with invalid cron = nil, want error")
	}
}

func TestAddIdentityReplacesExisting(t *testing.T) {
	s := New(noop)

	if err := s.AddIdentity("owner@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddIdentity() = %v", err)
	}
	s.mu.RLock()
	firstID := s.jobs["owner@example.com"]
	s.mu.RUnlock()

	if err := s.AddIdentity("owner@example.com", "@every 5m"); err != nil {
		t.Fatalf("AddIdentity() replacement = %v", err)
	}
	s.mu.RLock()
	secondID := s.jobs["owner@example.com"]
	schedule := s.schedules["owner@example.com"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
	if schedule != "@every 5m" {
		t.Errorf("schedule = %q", schedule)
	}
}

func TestRemoveIdentity(t *testing.T) {
	s := New(noop)
	if err := s.AddIdentity("owner@example.com", "0 2 * * *"); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	s.RemoveIdentity("owner@example.com")
	if s.IsScheduled("owner@example.com") {
		t.Error("job still exists after RemoveIdentity()")
	}

	// Should not panic
	s.RemoveIdentity("nobody@example.com")
}

func TestAddFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		owner    string
		sheet    string
		want     int
		wantErr  bool
	}{
		{"owner only", "*/10 * * * *", "owner@example.com", "", 1, false},
		{"owner and sheet owner", "*/10 * * * *", "owner@example.com", "sheets@example.com", 2, false},
		{"same identity once", "*/10 * * * *", "owner@example.com", "owner@example.com", 1, false},
		{"disabled", "", "owner@example.com", "", 0, false},
		{"bad expression", "nope", "owner@example.com", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefault(t.TempDir())
			cfg.Tokens.RefreshSchedule = tt.schedule
			cfg.Provider.UserIdentity = tt.owner
			cfg.Sheet.OwnerIdentity = tt.sheet

			got, err := New(noop).AddFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddFromConfig() err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AddFromConfig() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s := New(noop)

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestStopCancelsRunningRefresh(t *testing.T) {
	started := make(chan struct{})
	s := New(func(ctx context.Context, identity string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.AddIdentity("owner@example.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if err := s.TriggerRefresh("owner@example.com"); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("refresh did not start")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not complete after cancelling refresh")
	}

	statuses := s.Status()
	if len(statuses) != 1 || statuses[0].LastError == "" {
		t.Errorf("Status() = %+v, want the cancellation recorded", statuses)
	}
	if err := s.TriggerRefresh("owner@example.com"); err == nil {
		t.Error("TriggerRefresh() after Stop = nil, want error")
	}
}

func TestTriggerRefreshPreventsDoubleRun(t *testing.T) {
	var calls, concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	s := New(func(ctx context.Context, identity string) error {
		calls.Add(1)
		c := concurrent.Add(1)
		if c > maxConcurrent.Load() {
			maxConcurrent.Store(c)
		}
		<-release
		concurrent.Add(-1)
		return nil
	})

	if err := s.AddIdentity("owner@example.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if err := s.TriggerRefresh("owner@example.com"); err != nil {
		t.Fatalf("first TriggerRefresh: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.TriggerRefresh("owner@example.com"); err == nil {
			t.Error("TriggerRefresh() while running = nil, want error")
		}
	}
	close(release)
	<-s.Stop().Done()

	if calls.Load() != 1 || maxConcurrent.Load() != 1 {
		t.Errorf("calls = %d, max concurrent = %d, want 1 and 1", calls.Load(), maxConcurrent.Load())
	}
}

func TestTriggerRefreshUnscheduled(t *testing.T) {
	if err := New(noop).TriggerRefresh("nobody@example.com"); err == nil {
		t.Error("TriggerRefresh() for unscheduled identity = nil, want error")
	}
}

func TestStatus(t *testing.T) {
	s := New(noop)
	for _, id := range []string{"b@example.com", "a@example.com"} {
		if err := s.AddIdentity(id, "0 2 * * *"); err != nil {
			t.Fatalf("AddIdentity: %v", err)
		}
	}
	s.Start()
	defer s.Stop()

	statuses := s.Status()
	if len(statuses) != 2 {
		t.Fatalf("len(Status()) = %d, want 2", len(statuses))
	}
	if statuses[0].Identity != "a@example.com" {
		t.Errorf("Status() not sorted: %+v", statuses)
	}
	if statuses[0].Running || statuses[0].NextRun.IsZero() {
		t.Errorf("status = %+v", statuses[0])
	}
}

func TestStatusAfterRefreshSuccess(t *testing.T) {
	s := New(noop)
	if err := s.AddIdentity("owner@example.com", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if err := s.TriggerRefresh("owner@example.com"); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	<-s.Stop().Done()

	status := s.Status()[0]
	if status.LastRun.IsZero() {
		t.Error("LastRun should be set after a successful refresh")
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
}

func TestValidateCronExpr(t *testing.T) {
	for expr, ok := range map[string]bool{
		"*/10 * * * *": true,
		"@hourly":      true,
		"0 0 * *":      false,
		"":             false,
	} {
		if err := ValidateCronExpr(expr); (err == nil) != ok {
			t.Errorf("ValidateCronExpr(%q) = %v, want ok=%v", expr, err, ok)
		}
	}
}
