package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <link>",
	Short: "Confirm a recovery link",
	Long: `Send a single confirmation request to a link returned by introspect.

Examples:
  recoverybot confirm "https://www.netflix.com/account/update-primary-location?nftoken=..."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.service.ConfirmRecovery(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Confirmed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
}
