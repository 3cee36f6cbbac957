package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/config"
)

// newTestRootCmd creates a fresh root command for testing, avoiding mutation
// of the global rootCmd.
func newTestRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recoverybot",
		Short: "Streaming account recovery assistant",
	}
}

// TestExecuteContext_CancellationPropagates verifies that context cancellation
// from ExecuteContext propagates to command handlers.
func TestExecuteContext_CancellationPropagates(t *testing.T) {
	var contextWasCancelled atomic.Bool
	handlerStarted := make(chan struct{})

	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			close(handlerStarted)
			select {
			case <-cmd.Context().Done():
				contextWasCancelled.Store(true)
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		testRoot.SetArgs([]string{"test-cancel"})
		done <- testRoot.ExecuteContext(ctx)
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("command handler did not start in time")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled error, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteContext did not return after context cancellation")
	}

	if !contextWasCancelled.Load() {
		t.Error("command did not observe context cancellation")
	}
}

// withConfig swaps the package-level config for the duration of the test.
// Tests using it must not run in parallel.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	saved := cfg
	cfg = c
	t.Cleanup(func() { cfg = saved })
}

func TestIdentityArg(t *testing.T) {
	c := config.NewDefault(t.TempDir())
	withConfig(t, c)

	if got, err := identityArg([]string{"given@example.com"}); err != nil || got != "given@example.com" {
		t.Errorf("identityArg(args) = %q, %v", got, err)
	}
	if _, err := identityArg(nil); err == nil {
		t.Error("expected error without argument or provider.user_identity")
	}

	c.Provider.UserIdentity = "owner@example.com"
	if got, err := identityArg(nil); err != nil || got != "owner@example.com" {
		t.Errorf("identityArg(nil) = %q, %v", got, err)
	}
}
