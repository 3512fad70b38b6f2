// Package cache keeps the latest published value of each named section
// and reports the ones that actually changed.
package cache

import (
	"maps"
	"reflect"
	"sync"
)

type Cache struct {
	data         map[string]any
	onUpdateFunc func(string, any)
	onRemoveFunc func(string)
	mu           sync.RWMutex
}

func New(onUpdateFunc func(string, any)) *Cache {
	return &Cache{
		data:         make(map[string]any),
		onUpdateFunc: onUpdateFunc,
	}
}

// OnRemove registers a callback for sections dropped by Replace.
func (c *Cache) OnRemove(f func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoveFunc = f
}

// Update stores data under name and reports whether it differed from the
// previous value.
func (c *Cache) Update(name string, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.update(name, data)
}

// Replace makes the cache hold exactly sections. Unchanged sections are not
// reported again; sections that disappeared are removed.
func (c *Cache) Replace(sections map[string]any) (changed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, data := range sections {
		if c.update(name, data) {
			changed = append(changed, name)
		}
	}
	for name := range c.data {
		if _, ok := sections[name]; ok {
			continue
		}
		delete(c.data, name)
		changed = append(changed, name)
		if c.onRemoveFunc != nil {
			c.onRemoveFunc(name)
		}
	}
	return changed
}

func (c *Cache) update(name string, data any) bool {
	old, ok := c.data[name]
	if ok && reflect.DeepEqual(old, data) {
		return false
	}
	c.data[name] = data
	if c.onUpdateFunc != nil {
		c.onUpdateFunc(name, data)
	}
	return true
}

func (c *Cache) Get(name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.data[name]
}

func (c *Cache) Dump() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.data)
}
