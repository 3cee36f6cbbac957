package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

type callbackResult struct {
	code  string
	state string
	err   string
}

// newCallbackHandler returns a handler that forwards the provider redirect.
// State is verified by Approve, not here.
func newCallbackHandler(results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code"), state: q.Get("state")}
		if e := q.Get("error"); e != "" {
			res.err = e + ": " + q.Get("error_description")
			fmt.Fprintf(w, "Authorization failed: %s", e)
		} else {
			fmt.Fprintf(w, "Authorization received. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	}
}

// BrowserFlow authorizes from a terminal: it serves the redirect URL
// locally, opens the consent page, and approves the returned code. It
// returns the authorized identity.
func (m *Manager) BrowserFlow(ctx context.Context, loginHint string) (string, error) {
	redirect, err := url.Parse(m.config.RedirectURL)
	if err != nil || redirect.Host == "" {
		return "", fmt.Errorf("redirect_url %q is not an absolute URL", m.config.RedirectURL)
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", redirect.Host, err)
	}

	results := make(chan callbackResult, 1)
	errChan := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle(path, newCallbackHandler(results))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL, err := m.AuthCodeURL(ctx, loginHint)
	if err != nil {
		return "", err
	}

	fmt.Printf("Opening browser for authorization...\n")
	fmt.Printf("If browser doesn't open, visit:\n%s\n\n", authURL)
	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser", zap.Error(err))
	}

	select {
	case res := <-results:
		if res.err != "" {
			return "", fmt.Errorf("provider returned %s", res.err)
		}
		return m.Approve(ctx, res.code, res.state)
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
