package nimbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/acd/actronneo/neo"
	"github.com/parnurzeal/gorequest"
	"github.com/pkg/errors"
)

const (
	pairingClient = "ios"
	tokenClientID = "app"
)

type pairingResponse struct {
	PairingToken string `json:"pairingToken"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a valid access token, pairing the device and exchanging
// the pairing token as needed.
func (c *Client) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	if c.pairingToken == "" {
		pt, err := c.pair()
		if err != nil {
			return "", err
		}
		c.pairingToken = pt
	}
	tok, err := c.exchange(c.pairingToken)
	if err != nil {
		if isAuthError(err) {
			// the pairing token itself was rejected; pair again next time
			c.pairingToken = ""
		}
		return "", err
	}
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenExpiryMargin)
	c.log.WithField("expires", c.tokenExpiry).Debug("access token refreshed")
	return c.accessToken, nil
}

// invalidate drops the access token, and the pairing token too when full
// is set.
func (c *Client) invalidate(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	if full {
		c.pairingToken = ""
	}
}

func (c *Client) pair() (string, error) {
	const op = "pair device"
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return "", &neo.AuthenticationError{Err: errors.New("username and password are required")}
	}
	req := gorequest.New().Post(c.url(pairingPath)).
		Type(gorequest.TypeForm).
		Send(map[string]string{
			"username":               c.cfg.Username,
			"password":               c.cfg.Password,
			"client":                 pairingClient,
			"deviceName":             c.cfg.DeviceName,
			"deviceUniqueIdentifier": c.deviceID,
		})
	var resp pairingResponse
	if err := c.authRequest(op, req, &resp); err != nil {
		return "", err
	}
	if resp.PairingToken == "" {
		return "", &neo.AuthenticationError{Err: errors.New("no pairing token in response")}
	}
	c.log.WithField("device", c.deviceID).Info("paired with Nimbus")
	return resp.PairingToken, nil
}

func (c *Client) exchange(pairingToken string) (tokenResponse, error) {
	const op = "refresh token"
	req := gorequest.New().Post(c.url(tokenPath)).
		Type(gorequest.TypeForm).
		Send(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": pairingToken,
			"client_id":     tokenClientID,
		})
	var resp tokenResponse
	if err := c.authRequest(op, req, &resp); err != nil {
		return resp, err
	}
	if resp.AccessToken == "" {
		return resp, &neo.AuthenticationError{Err: errors.New("no access token in response")}
	}
	return resp, nil
}

// authRequest treats 400, 401 and 403 as bad credentials.
func (c *Client) authRequest(op string, req *gorequest.SuperAgent, out any) error {
	status, body, err := c.do(op, req)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &neo.AuthenticationError{Err: &neo.APIError{Op: op, StatusCode: status, Err: errors.New(snippet(body))}}
	case status < 200 || status > 299:
		return &neo.APIError{Op: op, StatusCode: status, Err: errors.New(snippet(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &neo.MalformedPayloadError{Reason: op + ": " + err.Error()}
	}
	return nil
}
