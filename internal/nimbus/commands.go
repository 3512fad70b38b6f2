package nimbus

import (
	"context"
	"fmt"
	"slices"

	"github.com/acd/actronneo/neo"
	"github.com/parnurzeal/gorequest"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	settingsPrefix = "UserAirconSettings."
	commandType    = "set-settings"
)

// CreateCommand builds the settings body for kind. It never talks to the
// network.
func (c *Client) CreateCommand(kind neo.CommandKind, p neo.CommandParams) (neo.Command, error) {
	settings := map[string]any{}
	switch kind {
	case neo.CommandOff:
		settings[settingsPrefix+"isOn"] = false
	case neo.CommandClimateMode:
		if p.Mode == "" {
			return neo.Command{}, errors.New("climate mode command needs a mode")
		}
		settings[settingsPrefix+"isOn"] = true
		settings[settingsPrefix+"Mode"] = p.Mode
	case neo.CommandSetTemp:
		key := neo.SetpointHeat
		if p.IsCool {
			key = neo.SetpointCool
		}
		settings[settingsPrefix+string(key)] = p.Temp
	case neo.CommandSetZoneTemp:
		if p.Zone < 0 || p.Zone >= neo.MaxZones {
			return neo.Command{}, errors.Errorf("zone index %d out of range", p.Zone)
		}
		if p.Setpoint != neo.SetpointCool && p.Setpoint != neo.SetpointHeat {
			return neo.Command{}, errors.Errorf("unknown setpoint %q", p.Setpoint)
		}
		settings[fmt.Sprintf("RemoteZoneInfo[%d].%s", p.Zone, p.Setpoint)] = p.Temp
	case neo.CommandSetZoneState:
		if len(p.Zones) == 0 {
			return neo.Command{}, errors.New("zone state command needs the enabled zone list")
		}
		settings[settingsPrefix+"EnabledZones"] = slices.Clone(p.Zones)
	default:
		return neo.Command{}, errors.Errorf("unknown command kind %q", kind)
	}
	return neo.Command{Kind: kind, Settings: settings}, nil
}

func (c *Client) SendCommand(ctx context.Context, serial string, cmd neo.Command) error {
	const op = "send command"
	body := map[string]any{}
	for k, v := range cmd.Settings {
		body[k] = v
	}
	body["type"] = commandType
	payload := map[string]any{"command": body}

	log.WithFields(log.Fields{"serial": serial, "kind": cmd.Kind}).Debug("sending command")
	_, err := c.call(ctx, op, func(token string) *gorequest.SuperAgent {
		return c.authed(gorequest.New().Post(c.url(commandsPath)+"?"+serialQuery(serial)), token).
			Type(gorequest.TypeJSON).
			Send(payload)
	})
	return err
}

func (c *Client) SetFanMode(ctx context.Context, base string, continuous bool) error {
	return c.sendSetting(ctx, "FanMode", neo.FanModeString(base, continuous))
}

func (c *Client) SetAwayMode(ctx context.Context, enabled bool) error {
	return c.sendSetting(ctx, "AwayMode", enabled)
}

func (c *Client) SetQuietMode(ctx context.Context, enabled bool) error {
	return c.sendSetting(ctx, "QuietMode", enabled)
}

func (c *Client) sendSetting(ctx context.Context, name string, value any) error {
	serial := c.Serial()
	if serial == "" {
		return errors.Errorf("set %s: no system serial configured", name)
	}
	cmd := neo.Command{Settings: map[string]any{settingsPrefix + name: value}}
	return c.SendCommand(ctx, serial, cmd)
}
