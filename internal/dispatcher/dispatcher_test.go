package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, l *Listener) (*Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-l.Receive():
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil, false
	}
}

func TestBroadcastReachesListeners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(ctx)

	a, b := d.NewListener(), d.NewListener()
	d.BroadcastEvent("main", 42)

	for _, l := range []*Listener{a, b} {
		ev, ok := receive(t, l)
		require.True(t, ok)
		assert.Equal(t, "main", ev.Source)
		assert.Equal(t, 42, ev.Data)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestCloseDeregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(ctx)

	l := d.NewListener()
	l.Close()
	l.Close()

	_, ok := receive(t, l)
	assert.False(t, ok)
}

func TestStopClosesListeners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := New(ctx)
	l := d.NewListener()

	cancel()
	_, ok := receive(t, l)
	assert.False(t, ok)

	late := d.NewListener()
	_, ok = receive(t, late)
	assert.False(t, ok)
	late.Close()
}
