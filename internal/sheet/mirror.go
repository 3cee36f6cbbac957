package sheet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/graph"
	"github.com/wesm/recoverybot/internal/store"
)

const defaultMaxRows = 500

// TokenStore is the credential store being mirrored.
type TokenStore interface {
	GetToken(ctx context.Context, identity string) (*store.Credential, error)
	UpsertToken(ctx context.Context, identity, refreshToken, accessToken string, expiry *time.Time, scope string) error
	ListTokens(ctx context.Context) ([]store.Credential, error)
}

// WorkbookClient reads and writes worksheet ranges.
type WorkbookClient interface {
	ReadRange(ctx context.Context, accessToken string, wb graph.Workbook, address string) ([][]any, error)
	WriteRange(ctx context.Context, accessToken string, wb graph.Workbook, address string, values [][]any) error
}

// Mirror wraps a token store and copies every upserted credential into the
// worksheet. The worksheet is written with the owner's own access token.
type Mirror struct {
	TokenStore
	client   WorkbookClient
	workbook graph.Workbook
	owner    string
	maxRows  int
	now      func() time.Time
	logger   *zap.Logger
}

// NewMirror creates a mirror over tokens. maxRows bounds how far down the
// worksheet it will write; zero selects 500.
func NewMirror(tokens TokenStore, client WorkbookClient, wb graph.Workbook, owner string, maxRows int, logger *zap.Logger) *Mirror {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		TokenStore: tokens,
		client:     client,
		workbook:   wb,
		owner:      store.NormalizeIdentity(owner),
		maxRows:    maxRows,
		now:        time.Now,
		logger:     logger,
	}
}

// UpsertToken stores the credential and then mirrors it. Mirror failures
// are logged and never returned.
func (m *Mirror) UpsertToken(ctx context.Context, identity, refreshToken, accessToken string, expiry *time.Time, scope string) error {
	if err := m.TokenStore.UpsertToken(ctx, identity, refreshToken, accessToken, expiry, scope); err != nil {
		return err
	}

	rec := Record{
		Identity:     store.NormalizeIdentity(identity),
		RefreshToken: refreshToken,
		AccessToken:  accessToken,
	}
	if expiry != nil {
		if secs := int64(expiry.Sub(m.now()).Seconds()); secs > 0 {
			rec.ExpiresIn = secs
			rec.ExtExpiresIn = secs
		}
	}
	if err := m.Write(ctx, rec); err != nil {
		m.logger.Warn("sheet mirror write failed",
			zap.String("identity", rec.Identity),
			zap.Error(err))
	}
	return nil
}

func (m *Mirror) ownerToken(ctx context.Context) (string, error) {
	cred, err := m.TokenStore.GetToken(ctx, m.owner)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", apperr.New(apperr.KindCredentialMissing, "sheet owner %s has no stored credential", m.owner)
	}
	return cred.AccessToken, nil
}

// readTable reads the worksheet from row 1 down to maxRows so that index i
// is always worksheet row i+1.
func (m *Mirror) readTable(ctx context.Context, token string) ([][]any, error) {
	return m.client.ReadRange(ctx, token, m.workbook, tableAddress(m.maxRows))
}

// Write puts rec on the row whose column A matches its identity, or on the
// first empty row.
func (m *Mirror) Write(ctx context.Context, rec Record) error {
	token, err := m.ownerToken(ctx)
	if err != nil {
		return err
	}
	rows, err := m.readTable(ctx, token)
	if err != nil {
		return err
	}

	target := -1
	firstEmpty := -1
	for i, row := range rows {
		id := cellIdentity(row)
		if id == rec.Identity {
			target = i
			break
		}
		if id == "" && firstEmpty < 0 {
			firstEmpty = i
		}
	}
	switch {
	case target >= 0:
	case firstEmpty >= 0:
		target = firstEmpty
	default:
		target = len(rows)
	}
	if target >= m.maxRows {
		return apperr.New(apperr.KindValidation, "worksheet %s is full (%d rows)", m.workbook.Worksheet, m.maxRows)
	}

	return m.client.WriteRange(ctx, token, m.workbook, rowAddress(target+1), [][]any{RecordToRow(rec)})
}

// Lookup reads the mirrored record for identity. It returns nil when the
// worksheet has no row for it.
func (m *Mirror) Lookup(ctx context.Context, identity string) (*Record, error) {
	identity = store.NormalizeIdentity(identity)
	token, err := m.ownerToken(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := m.readTable(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if cellIdentity(row) != identity {
			continue
		}
		rec, err := RecordFromRow(row)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	return nil, nil
}
