package neo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MaxZones is the number of zones a Neo master controller can address.
const MaxZones = 8

const (
	MinTemp = 16.0
	MaxTemp = 32.0
)

// State is one normalized snapshot of the air-conditioning system. A State
// is never modified after Normalize returns it; refreshes replace it.
type State struct {
	Main      Main            `json:"main"`
	Zones     map[string]Zone `json:"zones"`
	RawData   Payload         `json:"-"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

type Main struct {
	IsOn                bool     `json:"isOn"`
	Mode                HVACMode `json:"mode"`
	FanModeRaw          string   `json:"fanModeRaw"`
	FanContinuous       bool     `json:"fanContinuous"`
	FanModeBase         string   `json:"fanModeBase"`
	SetpointCool        *float64 `json:"setpointCool,omitempty"`
	SetpointHeat        *float64 `json:"setpointHeat,omitempty"`
	IndoorTemp          *float64 `json:"indoorTemp,omitempty"`
	IndoorHumidity      *float64 `json:"indoorHumidity,omitempty"`
	CompressorState     string   `json:"compressorState"`
	EnabledZones        []bool   `json:"enabledZones"`
	AwayMode            bool     `json:"awayMode"`
	QuietMode           bool     `json:"quietMode"`
	Model               *string  `json:"model,omitempty"`
	SerialNumber        *string  `json:"serialNumber,omitempty"`
	FirmwareVersion     *string  `json:"firmwareVersion,omitempty"`
	FilterCleanRequired bool     `json:"filterCleanRequired"`
	Defrosting          bool     `json:"defrosting"`
}

type Zone struct {
	Name            string   `json:"name"`
	Temp            *float64 `json:"temp,omitempty"`
	Humidity        *float64 `json:"humidity,omitempty"`
	IsEnabled       bool     `json:"isEnabled"`
	BatteryLevel    *int     `json:"batteryLevel,omitempty"`
	SignalStrength  *int     `json:"signalStrength,omitempty"`
	PeripheralType  *string  `json:"peripheralType,omitempty"`
	LastConnection  *string  `json:"lastConnection,omitempty"`
	ConnectionState *string  `json:"connectionState,omitempty"`
}

func emptyState() *State {
	return &State{Zones: map[string]Zone{}}
}

// Empty reports whether the state was never filled from a vendor payload.
func (s *State) Empty() bool {
	return s == nil || s.RawData == nil
}

// ZoneIDs returns the zone identifiers in zone order.
func (s *State) ZoneIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Zones))
	for id := range s.Zones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := ZoneIndexFromID(ids[i])
		b, _ := ZoneIndexFromID(ids[j])
		return a < b
	})
	return ids
}

// ZoneIDFromIndex maps a 0-based zone index to its "zone_<n>" identifier.
func ZoneIDFromIndex(index int) string {
	return fmt.Sprintf("zone_%d", index+1)
}

// ZoneIndexFromID maps "zone_<n>" to the 0-based index n-1.
func ZoneIndexFromID(id string) (int, error) {
	num, ok := strings.CutPrefix(id, "zone_")
	if !ok {
		return 0, errors.Errorf("invalid zone id %q", id)
	}
	n, err := strconv.Atoi(num)
	// only the canonical spelling is accepted: no sign, no leading zeros
	if err != nil || n < 1 || ZoneIDFromIndex(n-1) != id {
		return 0, errors.Errorf("invalid zone id %q", id)
	}
	return n - 1, nil
}

// ZoneRef addresses a zone either by identifier or by raw 0-based index.
// Both forms resolve into the same index space.
type ZoneRef struct {
	id    string
	index int
	byID  bool
}

func ZoneID(id string) ZoneRef { return ZoneRef{id: id, byID: true} }

func ZoneIndex(index int) ZoneRef { return ZoneRef{index: index} }

func (r ZoneRef) Index() (int, error) {
	if r.byID {
		return ZoneIndexFromID(r.id)
	}
	return r.index, nil
}

// ID returns the identifier the zone was addressed by, if any.
func (r ZoneRef) ID() (string, bool) {
	return r.id, r.byID
}

func (r ZoneRef) String() string {
	if r.byID {
		return r.id
	}
	return strconv.Itoa(r.index)
}
