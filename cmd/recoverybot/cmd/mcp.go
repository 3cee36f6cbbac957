package cmd

import (
	"github.com/spf13/cobra"
	mcpserver "github.com/wesm/recoverybot/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio exposing the
introspect_mailbox and confirm_recovery tools.

Add to an MCP client config:
  {
    "mcpServers": {
      "recoverybot": {
        "command": "recoverybot",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return mcpserver.Serve(cmd.Context(), a.service, Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
