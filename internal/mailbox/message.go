// Package mailbox holds the transient message model shared by the mailbox
// readers and the classifier.
package mailbox

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Message is one inbox message as returned by a reader. It is never persisted.
type Message struct {
	ID         string
	Subject    string
	From       string // sender address, lowercased
	ReceivedAt time.Time
	Body       string // plain text
	Preview    string
}

// Content types reported by mail APIs for message bodies.
const (
	ContentTypeText = "text"
	ContentTypeHTML = "html"
)

// NormalizeBody converts a body to valid UTF-8 plain text.
func NormalizeBody(contentType, content string) string {
	content = EnsureUTF8(content)
	if strings.EqualFold(contentType, ContentTypeHTML) || looksLikeHTML(content) {
		return StripHTML(content)
	}
	return strings.TrimSpace(content)
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body")
}

// ParseRaw parses an RFC 822 message. receivedAt is used when the Date
// header is missing or unparseable.
func ParseRaw(id string, raw []byte, receivedAt time.Time) (Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parse message %s: %w", id, err)
	}

	msg := Message{
		ID:         id,
		Subject:    EnsureUTF8(env.GetHeader("Subject")),
		ReceivedAt: receivedAt.UTC(),
	}
	if msg.ReceivedAt.IsZero() {
		if d, err := env.Date(); err == nil {
			msg.ReceivedAt = d.UTC()
		}
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
	}

	// HTML wins over text: enmime down-converts HTML-only messages into Text
	// and drops anchor targets doing so.
	switch {
	case strings.TrimSpace(env.HTML) != "":
		msg.Body = NormalizeBody(ContentTypeHTML, env.HTML)
	case env.Text != "":
		msg.Body = NormalizeBody(ContentTypeText, env.Text)
	}
	msg.Preview = previewOf(msg.Body)
	return msg, nil
}

const previewRunes = 255

func previewOf(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) <= previewRunes {
		return body
	}
	return string(runes[:previewRunes])
}
