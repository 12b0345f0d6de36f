// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/unchained/internal/log"
	"github.com/ManuGH/unchained/internal/metrics"
)

const (
	defaultBuffer = 64
	dropLogEvery  = 100
)

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), now: time.Now}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.IncEventDropped(string(ev.Kind))
			if n := b.dropped.Add(1); n%dropLogEvery == 1 {
				logger := xglog.WithComponent("events")
				logger.Warn().
					Str(xglog.FieldEvent, "events.dropped").
					Str("kind", string(ev.Kind)).
					Uint64("dropped_total", n).
					Msg("subscriber too slow, event dropped")
			}
		}
	}
}

// Dropped returns the number of undelivered events.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a subscriber with the given buffer size (0 = default).
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Subscription receives events until closed.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the delivery channel; it is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(Event) {}

// LogSink writes every event from sub to the structured log until ctx is
// done or the subscription is closed.
func LogSink(ctx context.Context, sub *Subscription) {
	logger := xglog.WithComponent("events")
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			evt := logger.Debug()
			switch ev.Kind {
			case UserLoggedIn, UserLoggedOut, SessionExpired, ServiceHealthChanged:
				evt = logger.Info()
			}
			if ev.Username != "" {
				evt = evt.Str(xglog.FieldUsername, ev.Username)
			}
			if ev.SessionID != "" {
				evt = evt.Str(xglog.FieldSessionID, xglog.MaskID(ev.SessionID))
			}
			if ev.Service != "" {
				evt = evt.Str(xglog.FieldService, ev.Service)
			}
			if ev.NewStatus != "" {
				evt = evt.Str(xglog.FieldOldState, ev.OldStatus).Str(xglog.FieldNewState, ev.NewStatus)
			}
			if ev.WorkItem != "" {
				evt = evt.Str("work_item", ev.WorkItem).Bool("success", ev.Success)
			}
			if ev.Reason != "" {
				evt = evt.Str("reason", ev.Reason)
			}
			if ev.Error != "" {
				evt = evt.Str("error", ev.Error)
			}
			evt.Str(xglog.FieldEvent, string(ev.Kind)).Msg("event")
		}
	}
}
