package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/recoverybot/internal/recovery"
)

var introspectJSON bool

var introspectCmd = &cobra.Command{
	Use:   "introspect [email]",
	Short: "Extract the newest recovery codes and links from a mailbox",
	Long: `Read the most recent inbox messages of an authorized mailbox and print
one result per configured category. Categories without a recent message
show "-".

Examples:
  recoverybot introspect you@outlook.com
  recoverybot introspect --json`,
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

		report, err := a.service.Introspect(cmd.Context(), identity)
		if err != nil {
			return err
		}

		if introspectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		outputReportTable(report)
		return nil
	},
}

func outputReportTable(report *recovery.Report) {
	names := make([]string, 0, len(report.Results))
	for name := range report.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tVALUE\tRECEIVED")
	for _, name := range names {
		r := report.Results[name]
		if r == nil {
			fmt.Fprintf(w, "%s\t-\t-\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, r.Value, r.ReceivedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func init() {
	introspectCmd.Flags().BoolVar(&introspectJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(introspectCmd)
}
