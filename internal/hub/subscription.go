package hub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Subscription is the handle returned by the Subscribe methods.
type Subscription struct {
	id      string
	topic   string
	hub     *Hub
	ch      chan Event
	done    chan struct{}
	deliver func(Event) error

	closed    atomic.Bool
	closeOnce sync.Once
}

// ID returns the unique handle id.
func (s *Subscription) ID() string { return s.id }

// Close is shorthand for Hub.Unsubscribe(s).
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Done is closed once the subscription has been unsubscribed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.ch:
			if s.closed.Load() {
				return
			}
			s.invoke(evt)
		}
	}
}

// invoke runs the handler, isolating its failures from other subscribers.
func (s *Subscription) invoke(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.failed.Add(1)
			s.hub.logger.Error("subscriber handler panicked",
				zap.String("subscription", s.id),
				zap.String("kind", evt.Kind),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := s.deliver(evt); err != nil {
		s.hub.failed.Add(1)
		s.hub.logger.Warn("subscriber handler failed",
			zap.String("subscription", s.id),
			zap.String("kind", evt.Kind),
			zap.Error(err))
	}
}
