package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openedtech/tutorcore/internal/logger"
)

// redisBus publishes envelopes on ws:user:<participant_id> channels so
// any API node can serve the learner's stream.
type redisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log: log.With("service", "RedisNotificationBus"),
		rdb: rdb,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, participantID string, env Envelope) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis notification bus not initialized")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Topic(participantID), raw).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, participantID string) (<-chan Envelope, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("redis notification bus not initialized")
	}
	sub := b.rdb.Subscribe(ctx, Topic(participantID))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.log.Warn("Bad notification payload", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
