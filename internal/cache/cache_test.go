package cache

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

type update struct {
	name string
	data any
}

func TestUpdateSkipsUnchanged(t *testing.T) {
	var got []update
	c := New(func(name string, data any) { got = append(got, update{name, data}) })

	assert.True(t, c.Update("main", map[string]any{"mode": "COOL"}))
	assert.False(t, c.Update("main", map[string]any{"mode": "COOL"}))
	assert.True(t, c.Update("main", map[string]any{"mode": "HEAT"}))

	assert.Equal(t, []update{
		{"main", map[string]any{"mode": "COOL"}},
		{"main", map[string]any{"mode": "HEAT"}},
	}, got)
	assert.Equal(t, map[string]any{"mode": "HEAT"}, c.Get("main"))
}

func TestUpdateNilIsAChange(t *testing.T) {
	c := New(nil)
	assert.True(t, c.Update("health", nil))
	assert.False(t, c.Update("health", nil))
}

func TestReplace(t *testing.T) {
	var removed []string
	c := New(nil)
	c.OnRemove(func(name string) { removed = append(removed, name) })

	changed := c.Replace(map[string]any{"main": 1, "zone_1": 2, "zone_2": 3})
	sort.Strings(changed)
	assert.Equal(t, []string{"main", "zone_1", "zone_2"}, changed)

	changed = c.Replace(map[string]any{"main": 1, "zone_1": 4})
	sort.Strings(changed)
	assert.Equal(t, []string{"zone_1", "zone_2"}, changed)
	assert.Equal(t, []string{"zone_2"}, removed)
	assert.Equal(t, map[string]any{"main": 1, "zone_1": 4}, c.Dump())
}

func TestDumpIsACopy(t *testing.T) {
	c := New(nil)
	c.Update("main", 1)
	d := c.Dump()
	d["main"] = 2
	assert.Equal(t, 1, c.Get("main"))
}
