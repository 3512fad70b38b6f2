package neo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanModeDerivation(t *testing.T) {
	tests := []struct {
		raw        string
		base       string
		continuous bool
	}{
		{"LOW", "LOW", false},
		{"LOW+CONT", "LOW", true},
		{"HIGH+CONT", "HIGH", true},
		{"AUTO-CONT", "AUTO", false},
		{"MED-", "MED", false},
		{"MED+X-Y", "MED", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.base, FanModeBase(tt.raw))
			assert.Equal(t, tt.continuous, FanContinuous(tt.raw))

			rebuilt := FanModeString(FanModeBase(tt.raw), FanContinuous(tt.raw))
			assert.Equal(t, tt.base, FanModeBase(rebuilt))
			assert.Equal(t, tt.continuous, FanContinuous(rebuilt))
		})
	}
}

func TestParseFanMode(t *testing.T) {
	for _, in := range []string{"low", "Med", " HIGH ", "auto"} {
		_, ok := ParseFanMode(in)
		assert.True(t, ok, in)
	}
	_, ok := ParseFanMode("turbo")
	assert.False(t, ok)
	_, ok = ParseFanMode("LOW+CONT")
	assert.False(t, ok)
}

func TestParseHVACMode(t *testing.T) {
	m, ok := ParseHVACMode("cool")
	assert.True(t, ok)
	assert.Equal(t, ModeCool, m)

	_, ok = ParseHVACMode("eco")
	assert.False(t, ok)
	assert.Len(t, HVACModes(), 6)
}

func TestZoneRef(t *testing.T) {
	i, err := ZoneID("zone_3").Index()
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	i, err = ZoneIndex(2).Index()
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	for _, bad := range []string{"zone_0", "zone_x", "3", "zone_-1", "zone_01", "zone_+1", "zone_ 1"} {
		_, err := ZoneID(bad).Index()
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "zone_8", ZoneIDFromIndex(7))
}
