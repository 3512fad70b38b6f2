package neo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	ch      chan time.Time
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped = true }

func TestPollerRun(t *testing.T) {
	client := newFakeClient(mustPayload(t, livingRoomPayload))
	c := NewCoordinator(Config{Client: client, Serial: "ABC123"})
	ticker := &manualTicker{ch: make(chan time.Time)}

	results := make(chan Result, 8)
	p := &Poller{Coordinator: c, Ticker: ticker, OnResult: func(r Result) { results <- r }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	first := <-results
	assert.Equal(t, Fresh, first.Outcome)

	ticker.ch <- time.Now()
	second := <-results
	assert.Equal(t, Fresh, second.Outcome)
	assert.NotSame(t, first.State, second.State)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.True(t, ticker.stopped)
	require.Equal(t, 2, client.statusCalls)
}
