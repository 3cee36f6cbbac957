package graph

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/mailbox"
)

const inboxPath = "/me/mailFolders/Inbox/messages"

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	BodyPreview      string    `json:"bodyPreview"`
	Body             *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From *struct {
		EmailAddress emailAddress `json:"emailAddress"`
	} `json:"from"`
}

type listMessagesResponse struct {
	Value []graphMessage `json:"value"`
}

// ListRecentMessages returns the newest count inbox messages, projecting the
// requested fields. Bodies are requested as plain text.
func (c *Client) ListRecentMessages(ctx context.Context, accessToken string, count int, fields []string) ([]mailbox.Message, error) {
	if count <= 0 {
		return nil, apperr.New(apperr.KindValidation, "message count must be positive, got %d", count)
	}
	if len(fields) == 0 {
		fields = mailbox.DefaultFields
	}

	q := url.Values{}
	q.Set("$top", strconv.Itoa(count))
	q.Set("$select", strings.Join(fields, ","))
	q.Set("$orderby", "receivedDateTime desc")

	var resp listMessagesResponse
	err := c.do(ctx, accessToken, request{
		method:  http.MethodGet,
		path:    inboxPath,
		query:   q,
		headers: map[string]string{"Prefer": `outlook.body-content-type="text"`},
	}, &resp)
	if err != nil {
		return nil, err
	}

	msgs := make([]mailbox.Message, 0, len(resp.Value))
	for _, gm := range resp.Value {
		msgs = append(msgs, toMessage(gm))
	}
	return msgs, nil
}

func toMessage(gm graphMessage) mailbox.Message {
	m := mailbox.Message{
		ID:         gm.ID,
		Subject:    mailbox.EnsureUTF8(gm.Subject),
		ReceivedAt: gm.ReceivedDateTime.UTC(),
		Preview:    mailbox.EnsureUTF8(gm.BodyPreview),
	}
	if gm.From != nil {
		m.From = strings.ToLower(strings.TrimSpace(gm.From.EmailAddress.Address))
	}
	if gm.Body != nil {
		m.Body = mailbox.NormalizeBody(gm.Body.ContentType, gm.Body.Content)
	}
	return m
}

type meResponse struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Me returns the mailbox address of the token owner, falling back to the
// user principal name for accounts without a mail attribute.
func (c *Client) Me(ctx context.Context, accessToken string) (string, error) {
	q := url.Values{}
	q.Set("$select", "mail,userPrincipalName")
	var resp meResponse
	if err := c.do(ctx, accessToken, request{method: http.MethodGet, path: "/me", query: q}, &resp); err != nil {
		return "", err
	}
	identity := resp.Mail
	if identity == "" {
		identity = resp.UserPrincipalName
	}
	if identity == "" {
		return "", apperr.New(apperr.KindTransport, "graph profile has no mail or userPrincipalName")
	}
	return strings.ToLower(identity), nil
}

var _ mailbox.Reader = (*Client)(nil)
