package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boristopalov/tutor/pkg/core"
)

// EnvironmentID is the publisher ID used for events emitted by the round loop.
const EnvironmentID = "environment"

// SimpleBroker implements Broker and core.Notifier.
// subscribers maps subscriber IDs to their delivery channels
type SimpleBroker struct {
	subscribers map[string]chan<- Message
	mu          sync.RWMutex
	dropped     atomic.Int64
}

// NewBroker creates a new message broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Message),
	}
}

// Publish sends a message to specified recipients. A recipient whose channel
// is full misses the message; the others still receive it.
func (b *SimpleBroker) Publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// If no recipients specified, broadcast to all subscribers
	recipients := msg.To
	if len(recipients) == 0 {
		for id := range b.subscribers {
			if id != msg.From {
				recipients = append(recipients, id)
			}
		}
	}

	var errs []error
	for _, id := range recipients {
		ch, ok := b.subscribers[id]
		if !ok {
			continue
		}

		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			errs = append(errs, fmt.Errorf("subscriber %s's channel is full", id))
		}
	}
	return errors.Join(errs...)
}

// Notify broadcasts ev to every subscriber. Delivery failures are counted,
// never returned.
func (b *SimpleBroker) Notify(ev core.Event) {
	_ = b.Publish(Message{
		From:      EnvironmentID,
		Event:     ev,
		Timestamp: time.Now(),
	})
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (b *SimpleBroker) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe registers a subscriber channel
func (b *SimpleBroker) Subscribe(id string, ch chan<- Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("subscriber %s is already subscribed", id)
	}

	b.subscribers[id] = ch
	return nil
}

// Unsubscribe removes a subscription
func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscriber %s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- Message)
}
