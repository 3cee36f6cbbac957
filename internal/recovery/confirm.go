package recovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/apperr"
)

const confirmTimeout = 15 * time.Second

// Dispatcher confirms a recovery by posting to the extracted link. Links are
// single use, so a confirmation is never retried.
type Dispatcher struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil client uses a client with a
// 15-second timeout.
func NewDispatcher(hc *http.Client, logger *zap.Logger) *Dispatcher {
	if hc == nil {
		hc = &http.Client{Timeout: confirmTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{httpClient: hc, logger: logger}
}

// Confirm posts an empty JSON object to link.
func (d *Dispatcher) Confirm(ctx context.Context, link string) error {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.New(apperr.KindValidation, "confirmation link must be an absolute http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader([]byte("{}")))
	if err != nil {
		return apperr.Wrap(apperr.KindConfirmationFailed, err, "build confirmation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindConfirmationFailed, err, "post confirmation to %s", u.Host)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrap(apperr.KindConfirmationFailed,
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"confirmation rejected by %s", u.Host)
	}
	d.logger.Info("recovery confirmed", zap.String("host", u.Host), zap.Int("status", resp.StatusCode))
	return nil
}
