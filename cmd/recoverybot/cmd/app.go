package cmd

import (
	"fmt"

	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/graph"
	"github.com/wesm/recoverybot/internal/imap"
	"github.com/wesm/recoverybot/internal/mailbox"
	"github.com/wesm/recoverybot/internal/oauth"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/sheet"
	"github.com/wesm/recoverybot/internal/store"
	"go.uber.org/zap"
)

// app holds the wired components shared by the commands.
type app struct {
	store   *store.Store
	tokens  *store.TokenStore
	graph   *graph.Client
	mirror  *sheet.Mirror // nil unless the sheet mirror is enabled
	oauth   *oauth.Manager
	service *recovery.Service
}

// openApp validates the config, opens the database and wires the pipeline.
// Callers must Close the returned app.
func openApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	a := &app{
		store:  s,
		tokens: s.Tokens(cfg.Provider.Name),
		graph: graph.NewClient(
			graph.WithBaseURL(cfg.Mailbox.GraphBaseURL),
			graph.WithRateLimit(cfg.Mailbox.RateLimitQPS),
			graph.WithLogger(logger.Named("graph")),
		),
	}

	var writer oauth.TokenWriter = a.tokens
	if cfg.Sheet.Enabled {
		wb := graph.Workbook{
			DriveID:   cfg.Sheet.DriveID,
			ItemID:    cfg.Sheet.ItemID,
			Worksheet: cfg.Sheet.Worksheet,
		}
		a.mirror = sheet.NewMirror(a.tokens, a.graph, wb, cfg.Sheet.OwnerIdentity, cfg.Sheet.MaxRows, logger.Named("sheet"))
		writer = a.mirror
	}

	a.oauth = oauth.NewManager(cfg.Provider, writer, s, a.graph,
		oauth.WithLogger(logger.Named("oauth")),
		oauth.WithStateTTL(cfg.StateTTL()),
	)

	categories, err := recovery.CompileCategories(cfg.Categories)
	if err != nil {
		s.Close()
		return nil, err
	}
	classifier := &recovery.Classifier{
		Categories:   categories,
		SenderMarker: cfg.Mailbox.SenderMarker,
		Freshness:    cfg.Freshness(),
		Skew:         recovery.DefaultClockSkew,
	}

	a.service = recovery.NewService(a.tokens, a.oauth, a.reader(cfg, logger), classifier,
		recovery.NewDispatcher(nil, logger.Named("confirm")),
		recovery.Options{
			RefreshWarning: cfg.RefreshWarning(),
			Count:          cfg.Mailbox.Count,
			Fields:         cfg.Mailbox.Fields,
			Retry: recovery.Policy{
				Schedule: cfg.RetrySchedule(),
				Logger:   logger.Named("retry"),
			},
			Logger: logger.Named("recovery"),
		},
	)
	return a, nil
}

// reader selects the mailbox backend.
func (a *app) reader(cfg *config.Config, logger *zap.Logger) mailbox.Reader {
	if cfg.Mailbox.Backend == config.BackendIMAP {
		return imap.NewReader(imap.FromConfig(cfg.IMAP), imap.WithLogger(logger.Named("imap")))
	}
	return a.graph
}

func (a *app) Close() error {
	return a.store.Close()
}
