package neo

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRefreshInterval matches the vendor app's own polling cadence.
const DefaultRefreshInterval = 60 * time.Second

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func NewTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Refresher is the part of a Coordinator a Poller needs. Hosts that share
// a Coordinator between goroutines wrap it to serialize access.
type Refresher interface {
	Refresh(ctx context.Context) Result
	Serial() string
}

// Poller drives a Coordinator on a schedule.
type Poller struct {
	Coordinator Refresher
	Ticker      Ticker
	// OnResult, if set, sees the result of every cycle.
	OnResult func(Result)
}

// Run refreshes once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	defer p.Ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-p.Ticker.C():
			p.cycle(ctx)
		case <-ctx.Done():
			log.WithField("serial", p.Coordinator.Serial()).Info("stopping poller")
			return
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	res := p.Coordinator.Refresh(ctx)
	if p.OnResult != nil {
		p.OnResult(res)
	}
}
