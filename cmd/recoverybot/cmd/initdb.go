package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/store"
	"go.uber.org/zap"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the recoverybot database with the credential and
authorization-state tables. It is safe to run multiple times.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		log.Info("initializing database", zap.String("path", dbPath))

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Credentials:    %d\n", stats.CredentialCount)
		fmt.Printf("  Pending states: %d\n", stats.PendingStates)
		fmt.Printf("  Size:           %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
