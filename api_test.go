package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/acd/actronneo/neo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayload = `{"lastKnownState": {
	"UserAirconSettings": {"isOn": true, "Mode": "COOL", "FanMode": "HIGH", "EnabledZones": [true, false],
		"TemperatureSetpoint_Cool_oC": 23, "TemperatureSetpoint_Heat_oC": 20, "AwayMode": false, "QuietMode": true},
	"MasterInfo": {"LiveTemp_oC": 24.5, "LiveHumidity_pc": 50},
	"RemoteZoneInfo": [
		{"NV_Exists": true, "NV_Title": "Living", "LiveTemp_oC": 22.5},
		{"NV_Exists": true, "NV_Title": "Bed", "LiveTemp_oC": 21}
	],
	"AirconSystem": {"Peripherals": [
		{"ZoneAssignment": [1], "LastConnectionTime": "2024-05-01T08:00:00Z"}
	]}
}}`

type stubClient struct {
	mu        sync.Mutex
	healthy   bool
	status    neo.Payload
	statusErr error
	sendErr   error
	commands  []neo.Command
	fan       []string
	away      []bool
	quiet     []bool
}

func newStubClient(t *testing.T) *stubClient {
	var p neo.Payload
	require.NoError(t, json.Unmarshal([]byte(testPayload), &p))
	return &stubClient{healthy: true, status: p}
}

func (s *stubClient) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *stubClient) GetStatus(ctx context.Context, serial string) (neo.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.status, nil
}

func (s *stubClient) CreateCommand(kind neo.CommandKind, params neo.CommandParams) (neo.Command, error) {
	return neo.Command{Kind: kind, Settings: map[string]any{"params": params}}, nil
}

func (s *stubClient) SendCommand(ctx context.Context, serial string, cmd neo.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *stubClient) SetFanMode(ctx context.Context, base string, continuous bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fan = append(s.fan, neo.FanModeString(base, continuous))
	return s.sendErr
}

func (s *stubClient) SetAwayMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.away = append(s.away, enabled)
	return s.sendErr
}

func (s *stubClient) SetQuietMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiet = append(s.quiet, enabled)
	return s.sendErr
}

func (s *stubClient) sent() []neo.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]neo.Command(nil), s.commands...)
}

func newTestApi(t *testing.T, client neo.Client, zoneControl bool) *Api {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewApi(ctx, client, "ABC123", zoneControl)
}

func TestApiPublishesSections(t *testing.T) {
	client := newStubClient(t)
	api := newTestApi(t, client, false)

	assert.Equal(t, "pending", api.Health().Outcome)
	res := api.Refresh(context.Background())
	require.Equal(t, neo.Fresh, res.Outcome)

	dump := api.Cache.Dump()
	assert.Contains(t, dump, mainCacheKey)
	assert.Contains(t, dump, "zone_1")
	assert.Contains(t, dump, "zone_2")
	m := dump[mainCacheKey].(neo.Main)
	assert.Equal(t, neo.ModeCool, m.Mode)

	h := dump[healthCacheKey].(Health)
	assert.Equal(t, "fresh", h.Outcome)
	assert.Equal(t, res.State.FetchedAt, h.LastFresh)
}

func TestApiRemovesVanishedZones(t *testing.T) {
	client := newStubClient(t)
	api := newTestApi(t, client, false)
	require.Equal(t, neo.Fresh, api.Refresh(context.Background()).Outcome)

	zones := client.status["lastKnownState"].(map[string]any)["RemoteZoneInfo"].([]any)
	client.mu.Lock()
	client.status = neo.Payload{"lastKnownState": map[string]any{
		"UserAirconSettings": map[string]any{"isOn": false},
		"RemoteZoneInfo":     zones[:1],
	}}
	client.mu.Unlock()

	require.Equal(t, neo.Fresh, api.Refresh(context.Background()).Outcome)
	dump := api.Cache.Dump()
	assert.Contains(t, dump, "zone_1")
	assert.NotContains(t, dump, "zone_2")
}

func TestApiHealthTracksFailures(t *testing.T) {
	client := newStubClient(t)
	api := newTestApi(t, client, false)

	client.statusErr = &neo.APIError{Op: "get status", StatusCode: 500}
	res := api.Refresh(context.Background())
	require.Equal(t, neo.Failed, res.Outcome)
	assert.Equal(t, "failed", api.Health().Outcome)
	assert.NotEmpty(t, api.Health().Error)

	client.statusErr = nil
	require.Equal(t, neo.Fresh, api.Refresh(context.Background()).Outcome)

	client.statusErr = &neo.APIError{Op: "get status", StatusCode: 503}
	res = api.Refresh(context.Background())
	require.Equal(t, neo.Cached, res.Outcome)
	api.onResult(res)
	h := api.Health()
	assert.Equal(t, "cached", h.Outcome)
	assert.False(t, h.LastFresh.IsZero())
}

func TestApiPollStopsWithContext(t *testing.T) {
	client := newStubClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	api := NewApi(ctx, client, "ABC123", false)

	done := make(chan struct{})
	go func() {
		api.Poll(neo.DefaultRefreshInterval)
		close(done)
	}()

	require.Eventually(t, func() bool { return api.State() != nil }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "fresh", api.Health().Outcome)
}
