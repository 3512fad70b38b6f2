package neo

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Client      Client
	Serial      string
	ZoneControl bool

	// OnUpdate is called with every freshly normalized state.
	OnUpdate func(*State)
	// OnFailure is called whenever a refresh ends in a hard failure,
	// including refreshes issued after a command.
	OnFailure func(error)
}

// Coordinator owns the last known good State of one system. Reads go
// through Refresh, writes through the Set* methods, each of which ends
// with a reconciling refresh.
//
// Callers are expected to serialize Refresh and commands per device. The
// snapshot itself is swapped atomically so concurrent readers of State()
// always see a complete value.
type Coordinator struct {
	client    Client
	serial    string
	onUpdate  func(*State)
	onFailure func(error)
	log       *log.Entry
	now       func() time.Time

	current       atomic.Pointer[State]
	continuousFan atomic.Bool
	zoneControl   atomic.Bool
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		client:    cfg.Client,
		serial:    cfg.Serial,
		onUpdate:  cfg.OnUpdate,
		onFailure: cfg.OnFailure,
		log:       log.WithField("serial", cfg.Serial),
		now:       time.Now,
	}
	c.zoneControl.Store(cfg.ZoneControl)
	return c
}

func (c *Coordinator) Serial() string { return c.serial }

// State returns the last known good state, or nil before the first
// successful refresh.
func (c *Coordinator) State() *State {
	return c.current.Load()
}

func (c *Coordinator) ContinuousFan() bool { return c.continuousFan.Load() }

func (c *Coordinator) SetContinuousFan(v bool) { c.continuousFan.Store(v) }

func (c *Coordinator) ZoneControl() bool { return c.zoneControl.Load() }

// Refresh fetches and normalizes the current status. An unhealthy client
// short-circuits to the cached state without touching the network.
// Transient failures are masked by the cached state when there is one;
// authentication failures and malformed payloads never are.
func (c *Coordinator) Refresh(ctx context.Context) Result {
	last := c.current.Load()

	if !c.client.IsHealthy() {
		c.log.Warn("API is not healthy, using cached data")
		if last == nil {
			last = emptyState()
		}
		return Result{Outcome: Cached, State: last, Err: ErrAPIUnavailable}
	}

	c.log.Debug("fetching status")
	raw, err := c.client.GetStatus(ctx, c.serial)
	if err != nil {
		return c.degrade(err, last)
	}

	state, err := normalizeAt(raw, c.now())
	if err != nil {
		c.log.WithError(err).Error("failed to parse API response")
		return c.fail(err)
	}

	c.current.Store(state)
	c.continuousFan.Store(state.Main.FanContinuous)
	c.log.WithFields(log.Fields{
		"fanMode":    state.Main.FanModeRaw,
		"fanBase":    state.Main.FanModeBase,
		"continuous": state.Main.FanContinuous,
		"zones":      len(state.Zones),
	}).Debug("parsed status")

	if c.onUpdate != nil {
		c.onUpdate(state)
	}
	return Result{Outcome: Fresh, State: state}
}

func (c *Coordinator) degrade(err error, last *State) Result {
	entry := c.log.WithError(err)

	switch {
	case isAuthentication(err):
		entry.Error("authentication error")
		return c.fail(fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	case IsMalformed(err):
		entry.Error("failed to decode API response")
		return c.fail(err)
	case errors.Is(err, ErrAPIUnavailable):
		entry.Error("error communicating with API")
	default:
		entry.WithField("type", fmt.Sprintf("%T", err)).Error("unexpected error occurred")
	}

	if last != nil {
		entry.Warn("using cached data due to failed update")
		return Result{Outcome: Cached, State: last, Err: err}
	}
	return c.fail(fmt.Errorf("%w: %w", ErrUpdateFailed, err))
}

func (c *Coordinator) fail(err error) Result {
	if c.onFailure != nil {
		c.onFailure(err)
	}
	return Result{Outcome: Failed, Err: err}
}

// ForceUpdate refreshes immediately and reports hard failures.
func (c *Coordinator) ForceUpdate(ctx context.Context) error {
	_, err := c.Refresh(ctx).Unwrap()
	return err
}

// SetZoneControl toggles whether zone commands are accepted.
func (c *Coordinator) SetZoneControl(ctx context.Context, enable bool) {
	c.zoneControl.Store(enable)
	c.reconcile(ctx, "set zone control")
}

func (c *Coordinator) SetHVACMode(ctx context.Context, mode HVACMode) error {
	const op = "set hvac mode"
	if _, ok := ParseHVACMode(string(mode)); !ok {
		return validationErrorf(op, "unknown mode %q", mode)
	}

	var (
		cmd Command
		err error
	)
	if mode == ModeOff {
		cmd, err = c.client.CreateCommand(CommandOff, CommandParams{})
	} else {
		cmd, err = c.client.CreateCommand(CommandClimateMode, CommandParams{Mode: string(mode)})
	}
	if err != nil {
		return errors.Wrap(err, op)
	}
	return c.send(ctx, op, cmd)
}

func (c *Coordinator) SetTemperature(ctx context.Context, temp float64, cooling bool) error {
	const op = "set temperature"
	if err := checkTemp(op, temp); err != nil {
		return err
	}
	cmd, err := c.client.CreateCommand(CommandSetTemp, CommandParams{Temp: temp, IsCool: cooling})
	if err != nil {
		return errors.Wrap(err, op)
	}
	return c.send(ctx, op, cmd)
}

// SetFanMode sets the fan level. An unknown level falls back to
// DefaultFanMode with a warning. When continuous is nil the continuity
// last observed on the device is kept.
func (c *Coordinator) SetFanMode(ctx context.Context, mode string, continuous *bool) error {
	base, ok := ParseFanMode(mode)
	if !ok {
		c.log.Warnf("invalid fan mode %q, defaulting to %s", mode, DefaultFanMode)
		base = DefaultFanMode
	}

	cont := c.continuousFan.Load()
	if continuous != nil {
		cont = *continuous
	} else if last := c.current.Load(); last != nil {
		cont = last.Main.FanContinuous
		c.log.Debugf("maintaining current continuous state: %t", cont)
	}

	entry := c.log.WithFields(log.Fields{"base": base, "continuous": cont})
	entry.Debug("setting fan mode")
	if err := c.client.SetFanMode(ctx, base, cont); err != nil {
		entry.WithError(err).Error("failed to set fan mode")
		return errors.Wrap(err, "set fan mode")
	}
	c.continuousFan.Store(cont)

	res := c.reconcile(ctx, "set fan mode")
	if res.Outcome == Fresh && res.State.Main.FanContinuous != cont {
		entry.WithField("reported", res.State.Main.FanModeRaw).Warn("continuous mode may not have been set correctly")
	}
	return nil
}

func (c *Coordinator) SetZoneTemperature(ctx context.Context, zoneID string, temp float64, key SetpointKey) error {
	const op = "set zone temperature"
	if key != SetpointCool && key != SetpointHeat {
		return validationErrorf(op, "unknown setpoint %q", key)
	}
	state, err := c.zoneState(op)
	if err != nil {
		return err
	}
	zone, ok := state.Zones[zoneID]
	if !ok {
		c.log.Errorf("zone %s not found in available zones: %v", zoneID, state.ZoneIDs())
		return validationErrorf(op, "zone %s not found", zoneID)
	}
	if !zone.IsEnabled {
		return validationErrorf(op, "zone %s is not enabled", zoneID)
	}
	if err := checkTemp(op, temp); err != nil {
		return err
	}
	index, err := ZoneIndexFromID(zoneID)
	if err != nil {
		return validationErrorf(op, "%v", err)
	}

	cmd, err := c.client.CreateCommand(CommandSetZoneTemp, CommandParams{Zone: index, Temp: temp, Setpoint: key})
	if err != nil {
		return errors.Wrap(err, op)
	}
	if err := c.send(ctx, op, cmd); err != nil {
		return err
	}
	c.log.Infof("set zone %s temperature to %g", zoneID, temp)
	return nil
}

// SetZoneState enables or disables one zone. The zone may be given by id
// or by 0-based index.
func (c *Coordinator) SetZoneState(ctx context.Context, zone ZoneRef, enable bool) error {
	const op = "set zone state"
	state, err := c.zoneState(op)
	if err != nil {
		return err
	}
	index, err := zone.Index()
	if err != nil {
		return validationErrorf(op, "%v", err)
	}
	if id, byID := zone.ID(); byID {
		if _, ok := state.Zones[id]; !ok {
			return validationErrorf(op, "zone %s not found", id)
		}
	}
	if index < 0 || index >= len(state.Main.EnabledZones) {
		return validationErrorf(op, "zone index %d out of range", index)
	}

	zones := slices.Clone(state.Main.EnabledZones)
	zones[index] = enable
	cmd, err := c.client.CreateCommand(CommandSetZoneState, CommandParams{Zones: zones})
	if err != nil {
		return errors.Wrap(err, op)
	}
	return c.send(ctx, op, cmd)
}

func (c *Coordinator) SetClimateMode(ctx context.Context, mode string) error {
	const op = "set climate mode"
	m, ok := ParseHVACMode(mode)
	if !ok {
		return validationErrorf(op, "unknown mode %q", mode)
	}
	cmd, err := c.client.CreateCommand(CommandClimateMode, CommandParams{Mode: string(m)})
	if err != nil {
		return errors.Wrap(err, op)
	}
	return c.send(ctx, op, cmd)
}

func (c *Coordinator) SetAwayMode(ctx context.Context, enabled bool) error {
	if err := c.client.SetAwayMode(ctx, enabled); err != nil {
		c.log.WithError(err).Errorf("failed to set away mode to %t", enabled)
		return errors.Wrap(err, "set away mode")
	}
	c.reconcile(ctx, "set away mode")
	return nil
}

func (c *Coordinator) SetQuietMode(ctx context.Context, enabled bool) error {
	if err := c.client.SetQuietMode(ctx, enabled); err != nil {
		c.log.WithError(err).Errorf("failed to set quiet mode to %t", enabled)
		return errors.Wrap(err, "set quiet mode")
	}
	c.reconcile(ctx, "set quiet mode")
	return nil
}

// ZonePeripheral returns the raw sensor record assigned to zoneID.
func (c *Coordinator) ZonePeripheral(zoneID string) (Payload, bool) {
	state := c.current.Load()
	if state == nil {
		return nil, false
	}
	index, err := ZoneIndexFromID(zoneID)
	if err != nil {
		c.log.WithError(err).Debug("peripheral lookup")
		return nil, false
	}
	status, err := state.RawData.StatusContainer()
	if err != nil {
		return nil, false
	}
	p := peripheralForZone(status.Object("AirconSystem").Objects("Peripherals"), index)
	return p, p != nil
}

// ZoneLastUpdated returns the last time the zone sensor reported in.
func (c *Coordinator) ZoneLastUpdated(zoneID string) (string, bool) {
	p, ok := c.ZonePeripheral(zoneID)
	if !ok {
		return "", false
	}
	ts := p.OptString("LastConnectionTime")
	if ts == nil {
		return "", false
	}
	return *ts, true
}

func (c *Coordinator) zoneState(op string) (*State, error) {
	if !c.zoneControl.Load() {
		c.log.Errorf("%s: zone control is disabled", op)
		return nil, validationErrorf(op, "zone control is not enabled")
	}
	state := c.current.Load()
	if state == nil {
		return nil, validationErrorf(op, "no system data available")
	}
	return state, nil
}

func (c *Coordinator) send(ctx context.Context, op string, cmd Command) error {
	if err := c.client.SendCommand(ctx, c.serial, cmd); err != nil {
		c.log.WithError(err).WithField("command", cmd.Kind).Errorf("failed to %s", op)
		return errors.Wrap(err, op)
	}
	c.reconcile(ctx, op)
	return nil
}

// reconcile refreshes after a write. Its failures never fail the command:
// the write has already been accepted.
func (c *Coordinator) reconcile(ctx context.Context, op string) Result {
	res := c.Refresh(ctx)
	if res.Outcome == Failed {
		c.log.WithError(res.Err).Warnf("refresh after %s failed", op)
	}
	return res
}

func checkTemp(op string, temp float64) error {
	if temp < MinTemp || temp > MaxTemp {
		return validationErrorf(op, "temperature %g outside %g..%g", temp, MinTemp, MaxTemp)
	}
	return nil
}
