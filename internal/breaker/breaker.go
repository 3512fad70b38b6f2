// Package breaker tracks the recent health of a remote dependency and
// fast-fails calls while it is considered down.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// ResetTimeout is how long an open breaker waits before letting a
	// trial call through.
	ResetTimeout time.Duration
	// IsFailure decides which errors count against the breaker. Nil
	// counts every error.
	IsFailure func(error) bool
}

type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time
	log  *log.Entry

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

func New(name string, cfg Config) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		log:   log.WithField("breaker", name),
		state: Closed,
	}
	b.log.WithFields(log.Fields{
		"maxFailures":  cfg.MaxFailures,
		"resetTimeout": cfg.ResetTimeout,
	}).Debug("breaker created")
	return b
}

// Healthy reports whether a call would be let through right now.
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != Open || b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recentFails
}

// Execute runs op unless the breaker is open. After ResetTimeout a single
// trial call decides whether it closes again.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state == Open {
		if since := b.now().Sub(b.openedAt); since < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.log.WithField("sinceOpen", since).Warn("fast fail")
			return ErrOpen
		}
		b.state = HalfOpen
		b.log.Info("trial call")
	}
	b.mu.Unlock()

	err := op(ctx)
	if err == nil || (b.cfg.IsFailure != nil && !b.cfg.IsFailure(err)) {
		b.onSuccess()
		return err
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.log.WithField("from", b.state).Info("breaker closed")
	}
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.log.WithError(err).WithField("failures", b.recentFails).Warn("operation failure")
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		if b.state != Open {
			b.log.WithField("failures", b.recentFails).Error("breaker opened")
		}
		b.state = Open
		b.openedAt = b.now()
	}
}
