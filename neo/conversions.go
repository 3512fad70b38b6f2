package neo

import "strings"

type HVACMode string

const (
	ModeOff  HVACMode = "OFF"
	ModeCool HVACMode = "COOL"
	ModeHeat HVACMode = "HEAT"
	ModeFan  HVACMode = "FAN"
	ModeAuto HVACMode = "AUTO"
	ModeDry  HVACMode = "DRY"
)

var hvacModes = []HVACMode{ModeOff, ModeCool, ModeHeat, ModeFan, ModeAuto, ModeDry}

// ParseHVACMode is case-insensitive.
func ParseHVACMode(s string) (HVACMode, bool) {
	m := HVACMode(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range hvacModes {
		if m == known {
			return m, true
		}
	}
	return ModeOff, false
}

func HVACModes() []HVACMode {
	return append([]HVACMode(nil), hvacModes...)
}

const (
	FanLow  = "LOW"
	FanMed  = "MED"
	FanHigh = "HIGH"
	FanAuto = "AUTO"

	// ContinuousSuffix marks a fan that keeps running between compressor
	// cycles, e.g. "LOW+CONT".
	ContinuousSuffix = "+CONT"

	DefaultFanMode = FanLow
)

var fanModes = []string{FanLow, FanMed, FanHigh, FanAuto}

func FanModes() []string {
	return append([]string(nil), fanModes...)
}

// ParseFanMode is case-insensitive and accepts only base fan levels.
func ParseFanMode(s string) (string, bool) {
	m := strings.ToUpper(strings.TrimSpace(s))
	for _, known := range fanModes {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// FanModeBase strips suffix segments from a vendor fan mode string,
// cutting at the first '+' or, failing that, at the first '-'.
func FanModeBase(raw string) string {
	if i := strings.IndexByte(raw, '+'); i >= 0 {
		return raw[:i]
	}
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func FanContinuous(raw string) bool {
	return strings.HasSuffix(raw, ContinuousSuffix)
}

// FanModeString is the vendor encoding of a base level and continuity.
func FanModeString(base string, continuous bool) string {
	if continuous {
		return base + ContinuousSuffix
	}
	return base
}
