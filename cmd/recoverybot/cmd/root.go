package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/logger"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "recoverybot",
	Short: "Streaming account recovery assistant",
	Long: `recoverybot reads the recent inbox of an authorized mailbox, extracts
the newest sign-in code, temporary access link and household confirmation
link, and can confirm a recovery link on the user's behalf.

Mailboxes are authorized once with OAuth; access tokens are refreshed
automatically before they expire.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log, err = logger.New(logger.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Debug:  verbose,
		})
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}

		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.HomeDir, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync(log)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("recoverybot", Version)
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// identityArg returns the identity given on the command line, falling back
// to provider.user_identity.
func identityArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Provider.UserIdentity != "" {
		return cfg.Provider.UserIdentity, nil
	}
	return "", fmt.Errorf("no mailbox given and provider.user_identity is not set in %s", cfg.ConfigFilePath())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.recoverybot/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides RECOVERYBOT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(versionCmd)
}
