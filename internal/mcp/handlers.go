package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/recoverybot/internal/apperr"
)

type handlers struct {
	svc Service
}

// stringArg extracts a required, trimmed string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

// errorResult renders err with its status code and remediation hint.
func errorResult(err error) *mcp.CallToolResult {
	kind := apperr.KindOf(err)
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s\n%s", kind.Code(), msg, kind.Suggestion()))
}

func (h *handlers) introspectMailbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := stringArg(req.GetArguments(), "email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := h.svc.Introspect(ctx, email)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

func (h *handlers) confirmRecovery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	link, err := stringArg(req.GetArguments(), "link")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := h.svc.ConfirmRecovery(ctx, link); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"confirmed": true, "link": link})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
