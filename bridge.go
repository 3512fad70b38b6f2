package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/acd/actronneo/internal/dispatcher"
	"github.com/acd/actronneo/neo"
	log "github.com/sirupsen/logrus"
)

type Publish func(topic string, qos byte, retained bool, payload string) error
type Subscribe func(topic string, callback func(message string)) error

type BridgeConfig struct {
	Publish     Publish
	Subscribe   Subscribe
	TopicPrefix string
	HassPrefix  string
	// Session, if set, reports the broker session; a change republishes
	// everything retained.
	Session func() int
}

// Bridge mirrors the published cache onto MQTT and turns "/set" topics
// into coordinator commands.
type Bridge struct {
	BridgeConfig
	api    *Api
	serial string
	log    *log.Entry
}

func NewBridge(config *BridgeConfig, api *Api) *Bridge {
	serial := api.Coordinator.Serial()
	return &Bridge{
		BridgeConfig: *config,
		api:          api,
		serial:       serial,
		log:          log.WithFields(log.Fields{"bridge": "mqtt", "serial": serial}),
	}
}

func (b *Bridge) topic(subtopic string) string {
	return fmt.Sprintf("%s/%s/%s", b.TopicPrefix, b.serial, subtopic)
}

func (b *Bridge) zoneTopic(index int, subtopic string) string {
	return b.topic(neo.ZoneIDFromIndex(index) + "/" + subtopic)
}

// Start subscribes the command topics and publishes discovery and the
// current cache.
func (b *Bridge) Start() error {
	subs := map[string]func(string){
		b.topic("mode/set"):        b.onMode,
		b.topic("fan/set"):         b.onFan,
		b.topic("temperature/set"): b.onTemperature,
		b.topic("away/set"):        b.onToggle("away", (*neo.Coordinator).SetAwayMode),
		b.topic("quiet/set"):       b.onToggle("quiet", (*neo.Coordinator).SetQuietMode),
	}
	for i := 0; i < neo.MaxZones; i++ {
		subs[b.zoneTopic(i, "enabled/set")] = b.onZoneEnabled(i)
		subs[b.zoneTopic(i, "temperature/set")] = b.onZoneTemperature(i)
	}
	var firstErr error
	for topic, cb := range subs {
		if err := b.Subscribe(topic, cb); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.publishAll()
	return firstErr
}

// Run forwards cache events until ctx is done. If the dispatcher drops the
// bridge for falling behind, it registers again and republishes the cache.
func (b *Bridge) Run(ctx context.Context) {
	listener := b.api.NewListener()
	defer func() { listener.Close() }()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	session := 0
	if b.Session != nil {
		session = b.Session()
	}

	for {
		select {
		case ev, ok := <-listener.Receive():
			if !ok {
				if ctx.Err() != nil || b.api.ctx.Err() != nil {
					return
				}
				b.log.Warn("event stream dropped, resubscribing")
				listener = b.api.NewListener()
				b.publishAll()
				continue
			}
			b.publishEvent(ev)
		case <-ticker.C:
			if b.Session == nil {
				continue
			}
			if s := b.Session(); s != session {
				session = s
				b.log.Infof("new MQTT session %d, republishing", s)
				b.publishAll()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) publishAll() {
	b.publishDiscovery()
	for source, data := range b.api.Cache.Dump() {
		b.publishEvent(&dispatcher.Event{Source: source, Data: data})
	}
}

func (b *Bridge) publishEvent(ev *dispatcher.Event) {
	payload := ""
	if ev.Data != nil {
		buf, err := json.Marshal(ev.Data)
		if err != nil {
			b.log.WithError(err).Errorf("cannot encode %s", ev.Source)
			return
		}
		payload = string(buf)
	}
	b.publish(b.topic(ev.Source), payload)

	if m, ok := ev.Data.(neo.Main); ok {
		b.publishMain(m)
	}
	if z, ok := ev.Data.(neo.Zone); ok {
		if index, err := neo.ZoneIndexFromID(ev.Source); err == nil {
			b.publishZone(index, z)
		}
	}
}

func (b *Bridge) publishMain(m neo.Main) {
	mode := neo.ModeOff
	if m.IsOn {
		mode = m.Mode
	}
	b.publish(b.topic("mode"), hassMode(mode))
	b.publish(b.topic("fan"), hassFanMode(m.FanModeBase))
	b.publish(b.topic("away"), onOff(m.AwayMode))
	b.publish(b.topic("quiet"), onOff(m.QuietMode))
	if t := targetTemp(m); t != nil {
		b.publish(b.topic("temperature"), formatFloat(*t))
	}
	if m.IndoorTemp != nil {
		b.publish(b.topic("current_temperature"), formatFloat(*m.IndoorTemp))
	}
}

func (b *Bridge) publishZone(index int, z neo.Zone) {
	b.publish(b.zoneTopic(index, "enabled"), onOff(z.IsEnabled))
	if z.Temp != nil {
		b.publish(b.zoneTopic(index, "current_temperature"), formatFloat(*z.Temp))
	}
}

func (b *Bridge) publishDiscovery() {
	modes := make([]string, 0, len(neo.HVACModes()))
	for _, m := range neo.HVACModes() {
		modes = append(modes, hassMode(m))
	}
	fanModes := make([]string, 0, len(neo.FanModes()))
	for _, f := range neo.FanModes() {
		fanModes = append(fanModes, hassFanMode(f))
	}

	name := "actronneo_" + b.serial
	config := map[string]any{
		"name":                      "ActronAir " + b.serial,
		"unique_id":                 name,
		"current_temperature_topic": b.topic("current_temperature"),
		"temperature_state_topic":   b.topic("temperature"),
		"temperature_command_topic": b.topic("temperature/set"),
		"temperature_unit":          "C",
		"precision":                 0.5,
		"temp_step":                 0.5,
		"min_temp":                  neo.MinTemp,
		"max_temp":                  neo.MaxTemp,
		"modes":                     modes,
		"mode_state_topic":          b.topic("mode"),
		"mode_command_topic":        b.topic("mode/set"),
		"fan_modes":                 fanModes,
		"fan_mode_state_topic":      b.topic("fan"),
		"fan_mode_command_topic":    b.topic("fan/set"),
		"availability_topic":        b.topic(healthCacheKey),
		"availability_template":     "{{ 'online' if value_json.healthy else 'offline' }}",
	}
	configJSON, _ := json.Marshal(config)
	// <discovery_prefix>/<component>/[<node_id>/]<object_id>/config
	b.publish(fmt.Sprintf("%s/climate/%s/config", b.HassPrefix, name), string(configJSON))
}

func (b *Bridge) publish(topic, payload string) {
	if err := b.Publish(topic, 0, true, payload); err != nil {
		b.log.WithError(err).WithField("topic", topic).Warn("publish failed")
	}
}

func (b *Bridge) do(name string, f func(ctx context.Context, c *neo.Coordinator) error) {
	err := b.api.Do(func(c *neo.Coordinator) error {
		return f(b.api.ctx, c)
	})
	if err != nil {
		b.api.Metrics.CommandError(name)
		b.log.WithError(err).Errorf("%s command failed", name)
	}
}

func (b *Bridge) onMode(message string) {
	mode, ok := hassModeToHVAC(message)
	if !ok {
		b.log.Errorf("unknown mode %q", message)
		return
	}
	b.do("mode", func(ctx context.Context, c *neo.Coordinator) error {
		return c.SetHVACMode(ctx, mode)
	})
}

func (b *Bridge) onFan(message string) {
	b.do("fan", func(ctx context.Context, c *neo.Coordinator) error {
		return c.SetFanMode(ctx, hassFanModeToBase(message), nil)
	})
}

func (b *Bridge) onTemperature(message string) {
	temp, err := strconv.ParseFloat(message, 64)
	if err != nil {
		b.log.WithError(err).Errorf("error parsing temperature %q", message)
		return
	}
	b.do("temperature", func(ctx context.Context, c *neo.Coordinator) error {
		return c.SetTemperature(ctx, temp, !heating(c.State()))
	})
}

func (b *Bridge) onToggle(name string, set func(*neo.Coordinator, context.Context, bool) error) func(string) {
	return func(message string) {
		enabled, err := stringToBool(message)
		if err != nil {
			b.log.WithError(err).Errorf("bad %s payload", name)
			return
		}
		b.do(name, func(ctx context.Context, c *neo.Coordinator) error {
			return set(c, ctx, enabled)
		})
	}
}

func (b *Bridge) onZoneEnabled(index int) func(string) {
	return func(message string) {
		enabled, err := stringToBool(message)
		if err != nil {
			b.log.WithError(err).Errorf("bad zone %d payload", index+1)
			return
		}
		b.do("zone", func(ctx context.Context, c *neo.Coordinator) error {
			return c.SetZoneState(ctx, neo.ZoneIndex(index), enabled)
		})
	}
}

func (b *Bridge) onZoneTemperature(index int) func(string) {
	return func(message string) {
		temp, err := strconv.ParseFloat(message, 64)
		if err != nil {
			b.log.WithError(err).Errorf("error parsing zone %d temperature %q", index+1, message)
			return
		}
		b.do("zone", func(ctx context.Context, c *neo.Coordinator) error {
			key := neo.SetpointCool
			if heating(c.State()) {
				key = neo.SetpointHeat
			}
			return c.SetZoneTemperature(ctx, neo.ZoneIDFromIndex(index), temp, key)
		})
	}
}

func heating(state *neo.State) bool {
	return state != nil && state.Main.Mode == neo.ModeHeat
}

// targetTemp is the setpoint that matters in the current mode.
func targetTemp(m neo.Main) *float64 {
	if m.Mode == neo.ModeHeat {
		return m.SetpointHeat
	}
	return m.SetpointCool
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
