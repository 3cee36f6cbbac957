// Package mcp exposes the recovery pipeline as MCP tools over stdio.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/recoverybot/internal/recovery"
)

// Tool name constants.
const (
	ToolIntrospectMailbox = "introspect_mailbox"
	ToolConfirmRecovery   = "confirm_recovery"
)

// Service is the subset of the recovery service the tools call.
type Service interface {
	Introspect(ctx context.Context, userIdentity string) (*recovery.Report, error)
	ConfirmRecovery(ctx context.Context, link string) error
}

// NewServer builds the MCP server with the recovery tools registered.
func NewServer(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"recoverybot",
		version,
		server.WithToolCapabilities(false),
	)

	h := &handlers{svc: svc}
	s.AddTool(introspectMailboxTool(), h.introspectMailbox)
	s.AddTool(confirmRecoveryTool(), h.confirmRecovery)
	return s
}

// Serve creates an MCP server with the recovery tools and serves over stdio.
// It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, svc Service, version string) error {
	stdio := server.NewStdioServer(NewServer(svc, version))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func introspectMailboxTool() mcp.Tool {
	return mcp.NewTool(ToolIntrospectMailbox,
		mcp.WithDescription("Read the mailbox's most recent messages and extract the newest sign-in code, temporary access link and household confirmation link. Categories without a recent message are null."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("Mailbox identity that was authorized through the portal"),
		),
	)
}

func confirmRecoveryTool() mcp.Tool {
	return mcp.NewTool(ToolConfirmRecovery,
		mcp.WithDescription("Confirm a recovery link previously returned by introspect_mailbox. Sends a single POST to the link."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithString("link",
			mcp.Required(),
			mcp.Description("Absolute http(s) confirmation link"),
		),
	)
}
