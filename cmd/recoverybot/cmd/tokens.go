package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/store"
)

var tokensJSON bool

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List stored credentials and their expiry status",
	Long: `List every stored credential for the configured provider with its
expiry and the decision the expiry policy takes for it. Token values are
never printed.

Examples:
  recoverybot tokens
  recoverybot tokens --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		creds, err := s.Tokens(cfg.Provider.Name).ListTokens(cmd.Context())
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No credentials stored. Use 'recoverybot authorize <email>' to add one.")
			return nil
		}

		now := time.Now()
		if tokensJSON {
			return outputTokensJSON(creds, now)
		}
		outputTokensTable(creds, now)
		return nil
	},
}

type tokenStatus struct {
	Identity  string     `json:"identity"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expires_at"`
	Status    string     `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func statusOf(c store.Credential, now time.Time) tokenStatus {
	return tokenStatus{
		Identity:  c.UserIdentity,
		Scope:     c.Scope,
		ExpiresAt: c.ExpiresAt,
		Status:    recovery.NeedsRefresh(c.ExpiresAt, cfg.RefreshWarning(), now).String(),
		UpdatedAt: c.UpdatedAt,
	}
}

func outputTokensTable(creds []store.Credential, now time.Time) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tSTATUS\tEXPIRES\tUPDATED")
	for _, c := range creds {
		st := statusOf(c, now)
		expires := "-"
		if st.ExpiresAt != nil {
			expires = st.ExpiresAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Identity, st.Status, expires, st.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	fmt.Printf("\n%d credential(s)\n", len(creds))
}

func outputTokensJSON(creds []store.Credential, now time.Time) error {
	out := make([]tokenStatus, len(creds))
	for i, c := range creds {
		out[i] = statusOf(c, now)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	tokensCmd.Flags().BoolVar(&tokensJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(tokensCmd)
}
