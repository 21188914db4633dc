package notify

import (
	"context"
	"sync"

	"github.com/openedtech/tutorcore/internal/logger"
)

const subscriberBuffer = 32

// memoryBus is the in-process bus used by tests and single-node
// deployments. Publish delivers under the topic lock so subscribers
// see per-topic order; a subscriber that falls behind its buffer loses
// the message rather than stalling the publisher.
type memoryBus struct {
	mu     sync.Mutex
	topics map[string]map[chan Envelope]struct{}
	log    *logger.Logger
	closed bool
}

func NewMemoryBus(log *logger.Logger) Bus {
	return &memoryBus{
		topics: make(map[string]map[chan Envelope]struct{}),
		log:    log.With("service", "MemoryNotificationBus"),
	}
}

func (b *memoryBus) Publish(_ context.Context, participantID string, env Envelope) error {
	topic := Topic(participantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for ch := range b.topics[topic] {
		select {
		case ch <- env:
		default:
			b.log.Warn("Dropping notification for slow subscriber", "topic", topic, "type", env.Type)
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, participantID string) (<-chan Envelope, error) {
	topic := Topic(participantID)
	ch := make(chan Envelope, subscriberBuffer)

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[chan Envelope]struct{})
	}
	b.topics[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if subs, ok := b.topics[topic]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
