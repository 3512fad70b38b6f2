// Package nimbus talks to the ActronAir Nimbus cloud API that fronts Neo
// wall controllers.
package nimbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	average "github.com/RobinUS2/golang-moving-average"
	"github.com/acd/actronneo/internal/breaker"
	"github.com/acd/actronneo/neo"
	"github.com/google/uuid"
	"github.com/parnurzeal/gorequest"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://nimbus.actronair.com.au"
	DefaultTimeout = 10 * time.Second

	pairingPath  = "/api/v0/client/user-devices"
	tokenPath    = "/api/v0/oauth/token"
	systemsPath  = "/api/v0/client/ac-systems"
	statusPath   = "/api/v0/client/ac-systems/status/latest"
	commandsPath = "/api/v0/client/ac-systems/cmds/send"

	// tokens are renewed this long before the vendor says they expire
	tokenExpiryMargin = time.Minute
	latencyWindow     = 30
	retries           = 2
	retryDelay        = 500 * time.Millisecond
)

var retryStatuses = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Serial     string
	DeviceName string
	Timeout    time.Duration

	BreakerFailures int
	BreakerReset    time.Duration
}

// Client implements neo.Client.
type Client struct {
	cfg      Config
	deviceID string
	breaker  *breaker.Breaker
	now      func() time.Time
	log      *log.Entry

	mu           sync.Mutex
	serial       string
	pairingToken string
	accessToken  string
	tokenExpiry  time.Time

	statsMu  sync.Mutex
	latency  *average.MovingAverage
	requests int
}

var _ neo.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "actronneo"
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 2 * time.Minute
	}
	return &Client{
		cfg:      cfg,
		serial:   cfg.Serial,
		deviceID: uuid.NewString(),
		breaker: breaker.New("nimbus", breaker.Config{
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    func(err error) bool { return !isAuthError(err) },
		}),
		now:     time.Now,
		log:     log.WithField("api", cfg.BaseURL),
		latency: average.New(latencyWindow),
	}
}

// Serial is the system that SetFanMode, SetAwayMode and SetQuietMode act on.
func (c *Client) Serial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

func (c *Client) SetSerial(serial string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial = serial
}

func (c *Client) IsHealthy() bool {
	return c.breaker.Healthy()
}

type Stats struct {
	Healthy    bool          `json:"healthy"`
	Breaker    string        `json:"breaker"`
	Failures   int           `json:"failures"`
	Requests   int           `json:"requests"`
	AvgLatency time.Duration `json:"avgLatency"`
}

func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	var avg time.Duration
	if c.requests > 0 {
		avg = time.Duration(c.latency.Avg())
	}
	return Stats{
		Healthy:    c.breaker.Healthy(),
		Breaker:    c.breaker.State().String(),
		Failures:   c.breaker.Failures(),
		Requests:   c.requests,
		AvgLatency: avg,
	}
}

// System is one air-conditioning system registered to the account.
type System struct {
	Serial      string `json:"serial"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func (c *Client) ListSystems(ctx context.Context) ([]System, error) {
	const op = "list systems"
	body, err := c.call(ctx, op, func(token string) *gorequest.SuperAgent {
		return c.authed(gorequest.New().Get(c.url(systemsPath)), token).Query("includeNeo=true")
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Embedded struct {
			Systems []System `json:"ac-system"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &neo.MalformedPayloadError{Reason: op + ": " + err.Error()}
	}
	return resp.Embedded.Systems, nil
}

func (c *Client) GetStatus(ctx context.Context, serial string) (neo.Payload, error) {
	const op = "get status"
	body, err := c.call(ctx, op, func(token string) *gorequest.SuperAgent {
		return c.authed(gorequest.New().Get(c.url(statusPath)), token).Query(serialQuery(serial))
	})
	if err != nil {
		return nil, err
	}
	var status neo.Payload
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &neo.MalformedPayloadError{Reason: op + ": " + err.Error()}
	}
	log.Debugf("status for %s: %d top-level keys", serial, len(status))
	return status, nil
}

// call runs one authorized request through the breaker. A 401 drops the
// access token and retries once with a fresh one.
func (c *Client) call(ctx context.Context, op string, build func(token string) *gorequest.SuperAgent) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &neo.APIError{Op: op, Err: err}
	}
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		for attempt := 0; ; attempt++ {
			token, err := c.token()
			if err != nil {
				return err
			}
			status, b, err := c.do(op, build(token))
			if err != nil {
				return err
			}
			switch {
			case status == http.StatusUnauthorized && attempt == 0:
				c.log.Info("access token rejected, re-authenticating")
				c.invalidate(false)
				continue
			case status == http.StatusUnauthorized:
				c.invalidate(true)
				return &neo.AuthenticationError{Err: &neo.APIError{Op: op, StatusCode: status}}
			case status < 200 || status > 299:
				return &neo.APIError{Op: op, StatusCode: status, Err: errors.New(snippet(b))}
			}
			body = b
			return nil
		}
	})
	if errors.Is(err, breaker.ErrOpen) {
		return nil, &neo.APIError{Op: op, Err: err}
	}
	return body, err
}

func (c *Client) do(op string, req *gorequest.SuperAgent) (int, []byte, error) {
	start := c.now()
	resp, body, errs := req.
		Timeout(c.cfg.Timeout).
		Retry(retries, retryDelay, retryStatuses...).
		EndBytes()
	c.observe(c.now().Sub(start))
	if len(errs) > 0 {
		return 0, nil, &neo.APIError{Op: op, Err: errs[0]}
	}
	if resp == nil {
		return 0, nil, &neo.APIError{Op: op, Err: errors.New("no response")}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) observe(d time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.requests++
	c.latency.Add(float64(d))
}

func (c *Client) url(path string) string {
	return c.cfg.BaseURL + path
}

func (c *Client) authed(req *gorequest.SuperAgent, token string) *gorequest.SuperAgent {
	return req.Set("Authorization", "Bearer "+token).Set("Accept", "application/json")
}

func serialQuery(serial string) string {
	return "serial=" + url.QueryEscape(serial)
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func isAuthError(err error) bool {
	var a *neo.AuthenticationError
	return errors.As(err, &a)
}
