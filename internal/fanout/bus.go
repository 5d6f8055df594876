// Package fanout broadcasts every persisted record to live subscribers.
// One Bus abstraction fronts two transports: the in-process event bus that
// feeds this process's WebSocket clients, and a Redis pub/sub channel for
// external subscriber processes. The local bus keeps fanout alive even when
// the primary store is unreachable.
package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/minhvn/blockpulse/internal/core/domain"
)

// Bus delivers published records to in-process subscribers.
type Bus interface {
	Publish(record *domain.BlockRecord)
	// Subscribe returns a receive channel and a cancel func that must be
	// called when the subscriber goes away.
	Subscribe() (<-chan *domain.BlockRecord, func())
}

const subscriberBuffer = 64

// LocalBus is the in-process transport. Delivery is fire-and-forget: a
// subscriber that cannot keep up has records dropped rather than blocking
// the ingestion path.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]chan *domain.BlockRecord
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]chan *domain.BlockRecord)}
}

func (b *LocalBus) Publish(record *domain.BlockRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- record:
		default:
			// Subscriber backlogged, drop for this one.
		}
	}
}

func (b *LocalBus) Subscribe() (<-chan *domain.BlockRecord, func()) {
	id := uuid.New().String()
	ch := make(chan *domain.BlockRecord, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of attached subscribers.
func (b *LocalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publisher fans a record out through every configured transport.
type Publisher struct {
	local    *LocalBus
	remote   RemoteTransport
	degraded func() bool
}

// RemoteTransport pushes records to subscribers outside this process.
type RemoteTransport interface {
	Publish(ctx context.Context, record *domain.BlockRecord) error
}

// NewPublisher wires the local bus with an optional remote transport.
// degraded reports whether the primary store (and with it the remote
// channel) is unreachable; the remote leg is skipped while it returns true.
func NewPublisher(local *LocalBus, remote RemoteTransport, degraded func() bool) *Publisher {
	if degraded == nil {
		degraded = func() bool { return false }
	}
	return &Publisher{local: local, remote: remote, degraded: degraded}
}

// Publish delivers the record to every transport. The remote leg is best
// effort; its error is returned for logging but local delivery always runs.
func (p *Publisher) Publish(ctx context.Context, record *domain.BlockRecord) error {
	p.local.Publish(record)
	if p.remote == nil || p.degraded() {
		return nil
	}
	return p.remote.Publish(ctx, record)
}
