package main

import (
	"context"
	"sync"
	"time"

	"github.com/acd/actronneo/internal/cache"
	"github.com/acd/actronneo/internal/dispatcher"
	"github.com/acd/actronneo/neo"
	log "github.com/sirupsen/logrus"
)

const (
	mainCacheKey   = "main"
	healthCacheKey = "health"
)

// Health is the refresh status published next to the state sections.
type Health struct {
	Outcome   string    `json:"outcome"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	LastFresh time.Time `json:"lastFresh"`
}

// Api owns one system: its coordinator, the published cache and the event
// fan-out. Coordinator calls are serialized here.
type Api struct {
	ctx         context.Context
	client      neo.Client
	Coordinator *neo.Coordinator
	Cache       *cache.Cache
	Metrics     *Metrics
	dispatcher  *dispatcher.Dispatcher

	mu sync.Mutex

	healthMu sync.Mutex
	health   Health
}

func NewApi(ctx context.Context, client neo.Client, serial string, zoneControl bool) *Api {
	d := dispatcher.New(ctx)
	a := &Api{
		ctx:        ctx,
		client:     client,
		Cache:      cache.New(d.BroadcastEvent),
		Metrics:    NewMetrics(serial),
		dispatcher: d,
		health:     Health{Outcome: "pending", Healthy: client.IsHealthy()},
	}
	a.Cache.OnRemove(func(name string) { d.BroadcastEvent(name, nil) })
	a.Coordinator = neo.NewCoordinator(neo.Config{
		Client:      client,
		Serial:      serial,
		ZoneControl: zoneControl,
		OnUpdate:    a.onUpdate,
		OnFailure:   a.onFailure,
	})
	a.Cache.Update(healthCacheKey, a.health)
	return a
}

// Poll runs the refresh schedule until the Api context is done.
func (a *Api) Poll(interval time.Duration) {
	p := &neo.Poller{
		Coordinator: lockedCoordinator{a},
		Ticker:      neo.NewTicker(interval),
		OnResult:    a.onResult,
	}
	p.Run(a.ctx)
}

// Do runs f with exclusive access to the coordinator.
func (a *Api) Do(f func(c *neo.Coordinator) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return f(a.Coordinator)
}

func (a *Api) Refresh(ctx context.Context) neo.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Coordinator.Refresh(ctx)
}

type lockedCoordinator struct{ a *Api }

func (l lockedCoordinator) Refresh(ctx context.Context) neo.Result { return l.a.Refresh(ctx) }

func (l lockedCoordinator) Serial() string { return l.a.Coordinator.Serial() }

func (a *Api) State() *neo.State {
	return a.Coordinator.State()
}

func (a *Api) Health() Health {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	return a.health
}

func (a *Api) NewListener() *dispatcher.Listener {
	return a.dispatcher.NewListener()
}

func (a *Api) onUpdate(state *neo.State) {
	h := a.setHealth(func(h *Health) {
		h.Outcome = neo.Fresh.String()
		h.Error = ""
		h.LastFresh = state.FetchedAt
	})
	a.Metrics.State(state)

	sections := map[string]any{
		mainCacheKey:   state.Main,
		healthCacheKey: h,
	}
	for id, zone := range state.Zones {
		sections[id] = zone
	}
	a.Cache.Replace(sections)
}

func (a *Api) onFailure(err error) {
	h := a.setHealth(func(h *Health) {
		h.Outcome = neo.Failed.String()
		h.Error = err.Error()
	})
	a.Cache.Update(healthCacheKey, h)
}

func (a *Api) onResult(res neo.Result) {
	healthy := a.client.IsHealthy()
	a.Metrics.Refresh(res, healthy)

	entry := log.WithField("outcome", res.Outcome)
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	entry.Debug("refresh cycle finished")

	h := a.setHealth(func(h *Health) {
		h.Healthy = healthy
		if res.Outcome == neo.Cached {
			h.Outcome = neo.Cached.String()
			h.Error = ""
			if res.Err != nil {
				h.Error = res.Err.Error()
			}
		}
	})
	a.Cache.Update(healthCacheKey, h)
}

func (a *Api) setHealth(f func(*Health)) Health {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	f(&a.health)
	return a.health
}
