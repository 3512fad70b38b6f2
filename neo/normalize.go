package neo

import (
	"strconv"
	"time"
)

// Normalize flattens one vendor status payload into a State. It fails only
// when the status container itself is unusable; every leaf field is
// optional and defaults when missing.
func Normalize(raw Payload) (*State, error) {
	return normalizeAt(raw, time.Now())
}

func normalizeAt(raw Payload, fetchedAt time.Time) (*State, error) {
	status, err := raw.StatusContainer()
	if err != nil {
		return nil, err
	}

	settings := status.Object("UserAirconSettings")
	master := status.Object("MasterInfo")
	live := status.Object("LiveAircon")
	system := status.Object("AirconSystem")
	alerts := status.Object("Alerts")

	fanMode := settings.String("FanMode", "")
	mode, ok := ParseHVACMode(settings.String("Mode", string(ModeOff)))
	if !ok {
		mode = ModeOff
	}

	main := Main{
		IsOn:                settings.Bool("isOn", false),
		Mode:                mode,
		FanModeRaw:          fanMode,
		FanContinuous:       FanContinuous(fanMode),
		FanModeBase:         FanModeBase(fanMode),
		SetpointCool:        settings.Float("TemperatureSetpoint_Cool_oC"),
		SetpointHeat:        settings.Float("TemperatureSetpoint_Heat_oC"),
		IndoorTemp:          master.Float("LiveTemp_oC"),
		IndoorHumidity:      master.Float("LiveHumidity_pc"),
		CompressorState:     live.String("CompressorMode", "OFF"),
		EnabledZones:        settings.Bools("EnabledZones"),
		AwayMode:            settings.Bool("AwayMode", false),
		QuietMode:           settings.Bool("QuietMode", false),
		Model:               system.OptString("MasterWCModel"),
		SerialNumber:        system.OptString("MasterSerial"),
		FirmwareVersion:     system.OptString("MasterWCFirmwareVersion"),
		FilterCleanRequired: alerts.Bool("CleanFilter", false),
		Defrosting:          alerts.Bool("Defrosting", false),
	}

	return &State{
		Main:      main,
		Zones:     normalizeZones(status.Objects("RemoteZoneInfo"), system.Objects("Peripherals"), main.EnabledZones),
		RawData:   raw,
		FetchedAt: fetchedAt,
	}, nil
}

func normalizeZones(remote, peripherals []Payload, enabled []bool) map[string]Zone {
	zones := make(map[string]Zone)
	for i, info := range remote {
		if i >= MaxZones {
			break
		}
		if !info.Bool("NV_Exists", false) {
			continue
		}
		id := ZoneIDFromIndex(i)
		zone := Zone{
			Name:      info.String("NV_Title", "Zone "+strconv.Itoa(i+1)),
			Temp:      info.Float("LiveTemp_oC"),
			Humidity:  info.Float("LiveHumidity_pc"),
			IsEnabled: i < len(enabled) && enabled[i],
		}
		if p := peripheralForZone(peripherals, i); p != nil {
			zone.BatteryLevel = clampPercent(p.Int("RemainingBatteryCapacity_pc"))
			zone.SignalStrength = p.Int("Signal_of3")
			zone.PeripheralType = p.OptString("DeviceType")
			zone.LastConnection = p.OptString("LastConnectionTime")
			zone.ConnectionState = p.OptString("ConnectionState")
		}
		zones[id] = zone
	}
	return zones
}

// peripheralForZone returns the first sensor assigned to exactly the zone
// at index, or nil.
func peripheralForZone(peripherals []Payload, index int) Payload {
	for _, p := range peripherals {
		if p == nil {
			continue
		}
		assigned, ok := p.Ints("ZoneAssignment")
		if ok && len(assigned) == 1 && assigned[0] == index+1 {
			return p
		}
	}
	return nil
}

func clampPercent(v *int) *int {
	if v == nil {
		return nil
	}
	c := min(max(*v, 0), 100)
	return &c
}
