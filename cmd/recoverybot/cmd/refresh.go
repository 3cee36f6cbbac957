package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/scheduler"
)

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh [email]",
	Short: "Refresh a stored access token",
	Long: `Evaluate the stored credential against the refresh warning window and
redeem the refresh token when it is about to expire. --force redeems it
regardless of the expiry.

Examples:
  recoverybot refresh you@outlook.com
  recoverybot refresh --force`,
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

		ctx := cmd.Context()
		if refreshForce {
			cred, err := a.tokens.GetToken(ctx, identity)
			if err != nil {
				return err
			}
			if cred == nil {
				return apperr.New(apperr.KindCredentialMissing, "no credential stored for %s", identity)
			}
			pair, err := a.oauth.Refresh(ctx, identity, cred.RefreshToken)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshed %s, access token valid until %s\n", identity, pair.Expiry.Local().Format("2006-01-02 15:04:05"))
			return nil
		}

		p := &scheduler.ProactiveRefresh{
			Tokens:    a.tokens,
			Refresher: a.oauth,
			Warning:   cfg.RefreshWarning(),
			Logger:    log.Named("refresh"),
		}
		decision, err := p.Run(ctx, identity)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", identity, decision)
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "refresh even when the token is not about to expire")
	rootCmd.AddCommand(refreshCmd)
}
