package neo

import "context"

type CommandKind string

const (
	CommandOff          CommandKind = "OFF"
	CommandClimateMode  CommandKind = "CLIMATE_MODE"
	CommandSetTemp      CommandKind = "SET_TEMP"
	CommandSetZoneTemp  CommandKind = "SET_ZONE_TEMP"
	CommandSetZoneState CommandKind = "SET_ZONE_STATE"
)

// SetpointKey selects the cooling or heating setpoint of a zone.
type SetpointKey string

const (
	SetpointCool SetpointKey = "TemperatureSetpoint_Cool_oC"
	SetpointHeat SetpointKey = "TemperatureSetpoint_Heat_oC"
)

// CommandParams carries the arguments of every command kind; each kind
// reads only the fields it needs.
type CommandParams struct {
	Mode     string
	Temp     float64
	IsCool   bool
	Zone     int
	Setpoint SetpointKey
	Zones    []bool
}

// Command is a vendor request body ready to be sent.
type Command struct {
	Kind     CommandKind
	Settings map[string]any
}

// Client is the vendor API as seen by the Coordinator. Timeouts, retries
// and authentication live behind it.
type Client interface {
	// IsHealthy must not block; it reflects recent call history.
	IsHealthy() bool
	GetStatus(ctx context.Context, serial string) (Payload, error)
	CreateCommand(kind CommandKind, params CommandParams) (Command, error)
	SendCommand(ctx context.Context, serial string, cmd Command) error
	SetFanMode(ctx context.Context, base string, continuous bool) error
	SetAwayMode(ctx context.Context, enabled bool) error
	SetQuietMode(ctx context.Context, enabled bool) error
}
