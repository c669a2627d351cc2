package messaging

import (
	"time"

	"github.com/boristopalov/tutor/pkg/core"
)

// Message carries one progress event to subscribers
type Message struct {
	From      string     // publisher ID
	To        []string   // subscriber IDs (empty means broadcast)
	Event     core.Event // the progress notification
	Timestamp time.Time
}

// Broker routes messages between the round loop and its observers
type Broker interface {
	// Publish sends a message to specified recipients
	Publish(msg Message) error
	// Subscribe registers a subscriber channel
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}
