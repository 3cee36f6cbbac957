package imap

import (
	"context"
	"mime"
	"sort"
	"strconv"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/mailbox"
	"go.uber.org/zap"
)

// Option is a functional option for Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

type dialFunc func(addr string, opts *imapclient.Options) (*imapclient.Client, error)

// Reader implements mailbox.Reader over IMAP. Every call opens its own
// connection because the access token may change between calls.
type Reader struct {
	config *Config
	logger *zap.Logger
	dial   dialFunc
}

var _ mailbox.Reader = (*Reader)(nil)

// NewReader creates a new IMAP reader.
func NewReader(cfg *Config, opts ...Option) *Reader {
	r := &Reader{
		config: cfg,
		logger: zap.NewNop(),
	}
	switch {
	case cfg.TLS:
		r.dial = imapclient.DialTLS
	case cfg.STARTTLS:
		r.dial = imapclient.DialStartTLS
	default:
		r.dial = imapclient.DialInsecure
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// connect dials and authenticates with the access token.
func (r *Reader) connect(accessToken string) (*imapclient.Client, error) {
	addr := r.config.Addr()
	r.logger.Debug("connecting to IMAP server",
		zap.String("addr", addr),
		zap.Bool("tls", r.config.TLS),
		zap.Bool("starttls", r.config.STARTTLS),
	)

	opts := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	conn, err := r.dial(addr, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, err, "dial IMAP %s", addr)
	}

	saslClient, err := newSASLClient(r.config.Mechanism, r.config.Username, accessToken)
	if err != nil {
		_ = conn.Close()
		return nil, apperr.Wrap(apperr.KindValidation, err, "IMAP authentication")
	}
	if err := conn.Authenticate(saslClient); err != nil {
		_ = conn.Close()
		return nil, apperr.Wrap(apperr.KindTransport, err, "IMAP AUTHENTICATE %s", r.config.Mechanism)
	}
	r.logger.Debug("connected and authenticated", zap.String("user", r.config.Username))
	return conn, nil
}

// ListRecentMessages fetches the count most recent messages of the configured
// mailbox, newest first. Fields are ignored: IMAP always fetches the whole
// message and the body and preview are derived from it.
func (r *Reader) ListRecentMessages(ctx context.Context, accessToken string, count int, _ []string) ([]mailbox.Message, error) {
	if accessToken == "" {
		return nil, apperr.New(apperr.KindValidation, "access token is required")
	}
	if count <= 0 {
		return nil, apperr.New(apperr.KindValidation, "message count must be positive, got %d", count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := r.connect(accessToken)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Logout().Wait(); err != nil {
			r.logger.Debug("IMAP logout", zap.Error(err))
		}
		_ = conn.Close()
	}()

	// Unblock pending commands when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sel, err := conn.Select(r.config.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, r.commandErr(ctx, err, "SELECT %q", r.config.Mailbox)
	}

	seqSet, ok := recentRange(sel.NumMessages, count)
	if !ok {
		return []mailbox.Message{}, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}}, // whole message, leaves \Seen alone
	}
	bufs, err := conn.Fetch(seqSet, fetchOpts).Collect()
	if err != nil {
		return nil, r.commandErr(ctx, err, "FETCH %s", seqSet)
	}

	msgs := r.toMessages(r.config.Mailbox, bufs)
	r.logger.Debug("listed recent messages",
		zap.String("mailbox", r.config.Mailbox),
		zap.Int("count", len(msgs)),
	)
	return msgs, nil
}

func (r *Reader) commandErr(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperr.Wrap(apperr.KindTransport, err, format, args...)
}

// recentRange returns the sequence range covering the last count of total
// messages.
func recentRange(total uint32, count int) (imap.SeqSet, bool) {
	if total == 0 {
		return nil, false
	}
	start := uint32(1)
	if uint64(count) < uint64(total) {
		start = total - uint32(count) + 1
	}
	var set imap.SeqSet
	set.AddRange(start, total)
	return set, true
}

// toMessages parses fetched buffers, skipping empty or unparseable ones, and
// orders them newest first.
func (r *Reader) toMessages(mbox string, bufs []*imapclient.FetchMessageBuffer) []mailbox.Message {
	msgs := make([]mailbox.Message, 0, len(bufs))
	for _, buf := range bufs {
		var raw []byte
		if len(buf.BodySection) > 0 {
			raw = buf.BodySection[0].Bytes
		}
		if len(raw) == 0 {
			continue
		}
		id := compositeID(mbox, buf.UID)
		msg, err := mailbox.ParseRaw(id, raw, buf.InternalDate)
		if err != nil {
			r.logger.Warn("skipping unparseable message", zap.String("id", id), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
	return msgs
}

// compositeID builds a message identifier as "mailbox|uid".
func compositeID(mbox string, uid imap.UID) string {
	return mbox + "|" + strconv.FormatUint(uint64(uid), 10)
}
