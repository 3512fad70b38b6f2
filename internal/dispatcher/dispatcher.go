// Package dispatcher fans state events out to websocket and MQTT listeners.
package dispatcher

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	broadcastBuffer = 64
	listenerBuffer  = 32
)

type Listener struct {
	ch        chan *Event
	closeOnce sync.Once
	closeFunc func()
}

func (l *Listener) Receive() <-chan *Event {
	return l.ch
}

func (l *Listener) Close() {
	l.closeOnce.Do(l.closeFunc)
}

type Dispatcher struct {
	ctx          context.Context
	listeners    map[*Listener]struct{}
	broadcast    chan *Event
	registerCh   chan *Listener
	deregisterCh chan *Listener
	now          func() time.Time
}

func New(ctx context.Context) *Dispatcher {
	d := &Dispatcher{
		ctx:          ctx,
		broadcast:    make(chan *Event, broadcastBuffer),
		registerCh:   make(chan *Listener),
		deregisterCh: make(chan *Listener),
		listeners:    make(map[*Listener]struct{}),
		now:          time.Now,
	}
	go d.run()
	return d
}

type Event struct {
	Source string    `json:"source"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewListener registers a listener. Once the dispatcher has stopped the
// returned listener is already closed.
func (d *Dispatcher) NewListener() *Listener {
	l := &Listener{
		ch: make(chan *Event, listenerBuffer),
	}
	l.closeFunc = func() {
		select {
		case d.deregisterCh <- l:
		case <-d.ctx.Done():
		}
	}

	select {
	case d.registerCh <- l:
	case <-d.ctx.Done():
		close(l.ch)
	}
	return l
}

// BroadcastEvent queues an event without blocking. Events are dropped when
// the queue is full.
func (d *Dispatcher) BroadcastEvent(source string, data any) {
	select {
	case d.broadcast <- &Event{Source: source, Data: data, Time: d.now()}:
	default:
		log.WithField("source", source).Warn("event queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer func() {
		for listener := range d.listeners {
			close(listener.ch)
		}
	}()

	for {
		select {
		case listener := <-d.registerCh:
			d.listeners[listener] = struct{}{}
		case listener := <-d.deregisterCh:
			if _, ok := d.listeners[listener]; ok {
				delete(d.listeners, listener)
				close(listener.ch)
			}
		case message := <-d.broadcast:
			for listener := range d.listeners {
				select {
				case listener.ch <- message:
				default:
					log.WithField("source", message.Source).Warn("listener too slow, disconnecting")
					close(listener.ch)
					delete(d.listeners, listener)
				}
			}
		case <-d.ctx.Done():
			return
		}
	}
}
