// Package imap reads recent inbox messages over IMAP, authenticating with
// the stored OAuth access token.
package imap

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesm/recoverybot/internal/config"
)

// SASL mechanisms accepted for token authentication.
const (
	MechXOAuth2     = "XOAUTH2"
	MechOAuthBearer = "OAUTHBEARER"
)

// Config holds connection settings for an IMAP server.
type Config struct {
	Host      string
	Port      int
	TLS       bool // Implicit TLS (IMAPS, port 993)
	STARTTLS  bool // STARTTLS upgrade (port 143)
	Username  string
	Mailbox   string
	Mechanism string
}

// FromConfig converts the [imap] config section, applying defaults.
func FromConfig(c config.IMAPConfig) *Config {
	cfg := &Config{
		Host:      c.Host,
		Port:      c.Port,
		TLS:       c.TLS,
		STARTTLS:  c.STARTTLS,
		Username:  c.Username,
		Mailbox:   c.Mailbox,
		Mechanism: strings.ToUpper(strings.TrimSpace(c.AuthMech)),
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Mechanism == "" {
		cfg.Mechanism = MechXOAuth2
	}
	return cfg
}

func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS {
		return 993
	}
	return 143
}

// Addr returns the "host:port" string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// Identifier returns a canonical string like "imaps://user@host:port".
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}
