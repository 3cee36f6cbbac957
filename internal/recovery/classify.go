package recovery

import (
	"regexp"
	"strings"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/mailbox"
)

// DefaultClockSkew is how far in the future a message may be dated and still
// be considered.
const DefaultClockSkew = time.Minute

// Category is a named message template.
type Category struct {
	Name    string
	Subject string         // case-insensitive substring of the subject
	Pattern *regexp.Regexp // exactly one capture group
}

// CompileCategories builds categories from configuration.
func CompileCategories(cfgs []config.CategoryConfig) ([]Category, error) {
	cats := make([]Category, 0, len(cfgs))
	for _, cc := range cfgs {
		re, err := regexp.Compile(cc.Pattern)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "category %q pattern", cc.Name)
		}
		if re.NumSubexp() != 1 {
			return nil, apperr.New(apperr.KindValidation, "category %q pattern must have exactly one capture group", cc.Name)
		}
		cats = append(cats, Category{Name: cc.Name, Subject: strings.ToLower(cc.Subject), Pattern: re})
	}
	return cats, nil
}

// Extraction is the payload captured for one category.
type Extraction struct {
	Value      string    `json:"value"`
	ReceivedAt time.Time `json:"time"`
	MessageID  string    `json:"messageId,omitempty"`
}

// Classifier partitions messages by category and extracts one payload per
// category from the newest matching message.
type Classifier struct {
	Categories   []Category
	SenderMarker string
	Freshness    time.Duration
	Skew         time.Duration
}

// Classify returns a result for every configured category; categories with
// no parseable message map to nil. It fails with no-relevant-messages when
// no category matched any message at all.
func (c *Classifier) Classify(msgs []mailbox.Message, now time.Time) (map[string]*Extraction, error) {
	results := make(map[string]*Extraction, len(c.Categories))
	matched := 0

	for _, cat := range c.Categories {
		rep := c.representative(cat, msgs, now)
		if rep == nil {
			results[cat.Name] = nil
			continue
		}
		matched++
		results[cat.Name] = extract(cat, rep)
	}

	if matched == 0 {
		return nil, apperr.New(apperr.KindNoRelevantMessages,
			"no message in the last %s matched any of %d categories", c.Freshness, len(c.Categories))
	}
	return results, nil
}

// representative returns the newest message passing the category filter.
// Ties keep the earlier message in the listing, which is newest first.
func (c *Classifier) representative(cat Category, msgs []mailbox.Message, now time.Time) *mailbox.Message {
	var best *mailbox.Message
	for i := range msgs {
		m := &msgs[i]
		if !c.accepts(cat, m, now) {
			continue
		}
		if best == nil || m.ReceivedAt.After(best.ReceivedAt) {
			best = m
		}
	}
	return best
}

func (c *Classifier) accepts(cat Category, m *mailbox.Message, now time.Time) bool {
	if !strings.Contains(strings.ToLower(m.Subject), cat.Subject) {
		return false
	}
	if c.SenderMarker != "" && !strings.Contains(strings.ToLower(m.From), strings.ToLower(c.SenderMarker)) {
		return false
	}
	age := now.Sub(m.ReceivedAt)
	if age > c.Freshness {
		return false
	}
	skew := c.Skew
	if skew == 0 {
		skew = DefaultClockSkew
	}
	return -age <= skew
}

func extract(cat Category, m *mailbox.Message) *Extraction {
	for _, text := range []string{m.Body, m.Preview} {
		if text == "" {
			continue
		}
		if sub := cat.Pattern.FindStringSubmatch(text); len(sub) == 2 && sub[1] != "" {
			return &Extraction{Value: sub[1], ReceivedAt: m.ReceivedAt, MessageID: m.ID}
		}
	}
	return nil
}
