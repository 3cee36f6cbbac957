package imap

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism used by Outlook and Gmail.
// The server answers a rejected token with a JSON challenge that must be
// acknowledged with an empty response before it sends the failure.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token)
	return MechXOAuth2, []byte(ir), nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

// newSASLClient builds the SASL client for mech.
func newSASLClient(mech, username, accessToken string) (sasl.Client, error) {
	switch mech {
	case MechXOAuth2, "":
		return &xoauth2Client{username: username, token: accessToken}, nil
	case MechOAuthBearer:
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    accessToken,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", mech)
	}
}
