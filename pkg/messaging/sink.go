package messaging

import (
	"sync"

	"github.com/boristopalov/tutor/pkg/core"
)

// Sink delivers broker messages to a notifier on its own goroutine, so a
// slow notifier never holds up the publisher. Messages beyond the buffer
// are dropped by the broker.
type Sink struct {
	id     string
	broker *SimpleBroker
	ch     chan Message
	done   chan struct{}
	once   sync.Once
}

// NewSink subscribes n to b under id.
func NewSink(b *SimpleBroker, id string, n core.Notifier, buffer int) (*Sink, error) {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Sink{
		id:     id,
		broker: b,
		ch:     make(chan Message, buffer),
		done:   make(chan struct{}),
	}
	if err := b.Subscribe(id, s.ch); err != nil {
		return nil, err
	}
	go func() {
		defer close(s.done)
		for msg := range s.ch {
			n.Notify(msg.Event)
		}
	}()
	return s, nil
}

// Close unsubscribes and waits until every buffered message is delivered.
func (s *Sink) Close() {
	s.once.Do(func() {
		// Unsubscribe takes the broker's write lock, so no publish can still
		// be sending on ch once it returns.
		_ = s.broker.Unsubscribe(s.id)
		close(s.ch)
	})
	<-s.done
}
