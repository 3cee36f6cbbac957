package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var sheetLookupCmd = &cobra.Command{
	Use:   "sheet-lookup [email]",
	Short: "Show the mirrored workbook row for a mailbox",
	Long: `Read the credential row mirrored into the configured workbook. Requires
[sheet] enabled = true. Token values are masked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, err := identityArg(args)
		if err != nil {
			return err
		}

		a, err := openApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.mirror == nil {
			return errors.New("the sheet mirror is disabled; set [sheet] enabled = true")
		}
		rec, err := a.mirror.Lookup(cmd.Context(), identity)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Printf("No row for %s\n", identity)
			return nil
		}
		fmt.Printf("Identity:       %s\n", rec.Identity)
		fmt.Printf("Refresh token:  %s\n", masked(rec.RefreshToken))
		fmt.Printf("Access token:   %s\n", masked(rec.AccessToken))
		fmt.Printf("Expires in:     %ds\n", rec.ExpiresIn)
		fmt.Printf("Ext expires in: %ds\n", rec.ExtExpiresIn)
		return nil
	},
}

func masked(tok string) string {
	if tok == "" {
		return "-"
	}
	return fmt.Sprintf("<%d chars>", len(tok))
}

func init() {
	rootCmd.AddCommand(sheetLookupCmd)
}
