package main

import (
	"strconv"
	"strings"

	"github.com/acd/actronneo/neo"
	"github.com/pkg/errors"
)

// zoneRefFromString accepts "zone_<n>" or a bare 0-based index.
func zoneRefFromString(s string) neo.ZoneRef {
	if n, err := strconv.Atoi(s); err == nil {
		return neo.ZoneIndex(n)
	}
	return neo.ZoneID(s)
}

// zoneIDFromString is zoneRefFromString for operations that need an id.
func zoneIDFromString(s string) (string, error) {
	ref := zoneRefFromString(s)
	index, err := ref.Index()
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", errors.Errorf("invalid zone %q", s)
	}
	return neo.ZoneIDFromIndex(index), nil
}

func stringSetpointToKey(s string) (neo.SetpointKey, bool) {
	switch strings.ToLower(s) {
	case "cool", "":
		return neo.SetpointCool, true
	case "heat":
		return neo.SetpointHeat, true
	default:
		return "", false
	}
}

func stringToBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, errors.Errorf("not a boolean: %q", s)
	}
}

// hassMode maps HVAC modes to Home Assistant climate modes.
func hassMode(m neo.HVACMode) string {
	switch m {
	case neo.ModeFan:
		return "fan_only"
	case neo.ModeAuto:
		return "heat_cool"
	default:
		return strings.ToLower(string(m))
	}
}

func hassModeToHVAC(s string) (neo.HVACMode, bool) {
	switch strings.ToLower(s) {
	case "fan_only":
		return neo.ModeFan, true
	case "heat_cool":
		return neo.ModeAuto, true
	default:
		return neo.ParseHVACMode(s)
	}
}

func hassFanMode(base string) string {
	if base == neo.FanMed {
		return "medium"
	}
	return strings.ToLower(base)
}

func hassFanModeToBase(s string) string {
	if strings.EqualFold(s, "medium") {
		return neo.FanMed
	}
	return strings.ToUpper(s)
}
