package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize [email]",
	Short: "Authorize a mailbox through the browser",
	Long: `Open the provider consent page in the browser and store the resulting
credential. The redirect URL configured under [provider] must point at this
machine (for example http://localhost:8089/callback).

Examples:
  recoverybot authorize you@outlook.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint := cfg.Provider.UserIdentity
		if len(args) > 0 {
			hint = args[0]
		}

		a, err := openApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		identity, err := a.oauth.BrowserFlow(cmd.Context(), hint)
		if err != nil {
			return err
		}
		fmt.Printf("Authorized %s\n", identity)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
}
