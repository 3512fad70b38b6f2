package nimbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acd/actronneo/internal/breaker"
	"github.com/acd/actronneo/neo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusBody = `{
  "lastKnownState": {
    "UserAirconSettings": {"isOn": true, "Mode": "COOL", "FanMode": "AUTO+CONT"},
    "MasterInfo": {"LiveTemp_oC": 23.5}
  }
}`

type fakeNimbus struct {
	t *testing.T

	mu            sync.Mutex
	pairings      []map[string]string
	tokenCalls    int
	statusCalls   int
	statusCodes   []int
	status        string
	commands      []map[string]any
	commandSerial string
}

func newFakeNimbus(t *testing.T) (*fakeNimbus, *httptest.Server) {
	f := &fakeNimbus{t: t, status: statusBody}
	mux := http.NewServeMux()
	mux.HandleFunc(pairingPath, f.pair)
	mux.HandleFunc(tokenPath, f.token)
	mux.HandleFunc(systemsPath, f.systems)
	mux.HandleFunc(statusPath, f.latest)
	mux.HandleFunc(commandsPath, f.command)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNimbus) pair(w http.ResponseWriter, r *http.Request) {
	assert.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	defer f.mu.Unlock()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.pairings = append(f.pairings, form)
	if form["password"] != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"pairingToken": "pt-1"})
}

func (f *fakeNimbus) token(w http.ResponseWriter, r *http.Request) {
	assert.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	assert.Equal(f.t, "refresh_token", r.PostForm.Get("grant_type"))
	assert.Equal(f.t, "pt-1", r.PostForm.Get("refresh_token"))
	writeJSON(w, map[string]any{"access_token": "at-1", "token_type": "bearer", "expires_in": 3600})
}

func (f *fakeNimbus) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer at-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *fakeNimbus) systems(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	assert.Equal(f.t, "true", r.URL.Query().Get("includeNeo"))
	writeJSON(w, map[string]any{
		"_embedded": map[string]any{
			"ac-system": []map[string]any{
				{"serial": "ABC123", "description": "House", "type": "neo"},
			},
		},
	})
}

func (f *fakeNimbus) latest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.statusCalls++
	var code int
	if len(f.statusCodes) > 0 {
		code, f.statusCodes = f.statusCodes[0], f.statusCodes[1:]
	}
	body := f.status
	f.mu.Unlock()

	if code != 0 {
		w.WriteHeader(code)
		return
	}
	if !f.authorized(w, r) {
		return
	}
	assert.Equal(f.t, "ABC123", r.URL.Query().Get("serial"))
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeNimbus) command(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var body map[string]any
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandSerial = r.URL.Query().Get("serial")
	cmd, _ := body["command"].(map[string]any)
	f.commands = append(f.commands, cmd)
	writeJSON(w, map[string]any{})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(srv *httptest.Server, password string) *Client {
	return New(Config{
		BaseURL:         srv.URL,
		Username:        "user@example.com",
		Password:        password,
		Serial:          "ABC123",
		Timeout:         2 * time.Second,
		BreakerFailures: 2,
		BreakerReset:    time.Minute,
	})
}

func TestGetStatusPairsOnce(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	ctx := context.Background()

	status, err := c.GetStatus(ctx, "ABC123")
	require.NoError(t, err)
	container, err := status.StatusContainer()
	require.NoError(t, err)
	assert.Equal(t, "COOL", container.Object("UserAirconSettings").String("Mode", ""))

	_, err = c.GetStatus(ctx, "ABC123")
	require.NoError(t, err)

	require.Len(t, f.pairings, 1)
	assert.Equal(t, "user@example.com", f.pairings[0]["username"])
	assert.Equal(t, "ios", f.pairings[0]["client"])
	assert.Equal(t, c.deviceID, f.pairings[0]["deviceUniqueIdentifier"])
	assert.Equal(t, 1, f.tokenCalls)
	assert.Equal(t, 4, c.Stats().Requests)
}

func TestGetStatusReauthenticates(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	ctx := context.Background()

	_, err := c.GetStatus(ctx, "ABC123")
	require.NoError(t, err)

	f.statusCodes = []int{http.StatusUnauthorized}
	_, err = c.GetStatus(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokenCalls)
	assert.Equal(t, 3, f.statusCalls)
	assert.Len(t, f.pairings, 1)
}

func TestGetStatusPersistentUnauthorized(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	f.statusCodes = []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}

	_, err := c.GetStatus(context.Background(), "ABC123")
	var authErr *neo.AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.True(t, c.IsHealthy())
	assert.Equal(t, breaker.Closed, c.breaker.State())
}

func TestBadCredentials(t *testing.T) {
	_, srv := newFakeNimbus(t)
	c := newTestClient(srv, "wrong")

	_, err := c.GetStatus(context.Background(), "ABC123")
	var authErr *neo.AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.True(t, c.IsHealthy())
}

func TestMissingCredentials(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "")

	_, err := c.GetStatus(context.Background(), "ABC123")
	var authErr *neo.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Empty(t, f.pairings)
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	ctx := context.Background()
	f.statusCodes = []int{http.StatusInternalServerError, http.StatusInternalServerError}

	_, err := c.GetStatus(ctx, "ABC123")
	var apiErr *neo.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.ErrorIs(t, err, neo.ErrAPIUnavailable)
	assert.True(t, c.IsHealthy())

	_, err = c.GetStatus(ctx, "ABC123")
	require.Error(t, err)
	assert.False(t, c.IsHealthy())

	_, err = c.GetStatus(ctx, "ABC123")
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.ErrorIs(t, err, neo.ErrAPIUnavailable)
	assert.Equal(t, 2, f.statusCalls)

	stats := c.Stats()
	assert.False(t, stats.Healthy)
	assert.Equal(t, "open", stats.Breaker)
	assert.Equal(t, 2, stats.Failures)
}

func TestMalformedStatus(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	f.status = "<html>maintenance</html>"

	_, err := c.GetStatus(context.Background(), "ABC123")
	assert.True(t, neo.IsMalformed(err), "got %v", err)
}

func TestCanceledContext(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetStatus(ctx, "ABC123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.statusCalls)
}

func TestListSystems(t *testing.T) {
	_, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")

	systems, err := c.ListSystems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []System{{Serial: "ABC123", Description: "House", Type: "neo"}}, systems)
}

func TestSendCommand(t *testing.T) {
	f, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	ctx := context.Background()

	cmd, err := c.CreateCommand(neo.CommandClimateMode, neo.CommandParams{Mode: "HEAT"})
	require.NoError(t, err)
	require.NoError(t, c.SendCommand(ctx, "ABC123", cmd))
	require.NoError(t, c.SetFanMode(ctx, neo.FanHigh, true))
	require.NoError(t, c.SetAwayMode(ctx, true))

	require.Len(t, f.commands, 3)
	assert.Equal(t, "ABC123", f.commandSerial)
	assert.Equal(t, map[string]any{
		"type":                    "set-settings",
		"UserAirconSettings.isOn": true,
		"UserAirconSettings.Mode": "HEAT",
	}, f.commands[0])
	assert.Equal(t, "HIGH+CONT", f.commands[1]["UserAirconSettings.FanMode"])
	assert.Equal(t, true, f.commands[2]["UserAirconSettings.AwayMode"])
}

func TestSettingWithoutSerial(t *testing.T) {
	_, srv := newFakeNimbus(t)
	c := newTestClient(srv, "secret")
	c.SetSerial("")

	assert.Error(t, c.SetQuietMode(context.Background(), true))
}

func TestCreateCommand(t *testing.T) {
	c := New(Config{})

	tests := []struct {
		name   string
		kind   neo.CommandKind
		params neo.CommandParams
		want   map[string]any
	}{
		{"off", neo.CommandOff, neo.CommandParams{},
			map[string]any{"UserAirconSettings.isOn": false}},
		{"cool setpoint", neo.CommandSetTemp, neo.CommandParams{Temp: 22, IsCool: true},
			map[string]any{"UserAirconSettings.TemperatureSetpoint_Cool_oC": 22.0}},
		{"heat setpoint", neo.CommandSetTemp, neo.CommandParams{Temp: 19.5},
			map[string]any{"UserAirconSettings.TemperatureSetpoint_Heat_oC": 19.5}},
		{"zone setpoint", neo.CommandSetZoneTemp, neo.CommandParams{Zone: 2, Temp: 21, Setpoint: neo.SetpointHeat},
			map[string]any{"RemoteZoneInfo[2].TemperatureSetpoint_Heat_oC": 21.0}},
		{"zone state", neo.CommandSetZoneState, neo.CommandParams{Zones: []bool{true, false}},
			map[string]any{"UserAirconSettings.EnabledZones": []bool{true, false}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := c.CreateCommand(tt.kind, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.want, cmd.Settings)
		})
	}

	_, err := c.CreateCommand("REBOOT", neo.CommandParams{})
	assert.Error(t, err)
	_, err = c.CreateCommand(neo.CommandClimateMode, neo.CommandParams{})
	assert.Error(t, err)
	_, err = c.CreateCommand(neo.CommandSetZoneTemp, neo.CommandParams{Zone: neo.MaxZones, Setpoint: neo.SetpointCool})
	assert.Error(t, err)
}
