package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/profile"
	"github.com/openedtech/tutorcore/internal/utils"
)

const profileKeyPrefix = "profile:"

// redisStore keeps one JSON document per learner under profile:<pid>.
// Field updates run under a per-learner in-process mutex plus a WATCH
// transaction, so a multi-path batch lands as a single SET and readers
// never observe a partially applied update.
type redisStore struct {
	rdb   *goredis.Client
	locks *participantLocks
	log   *logger.Logger
}

func NewRedisStore(log *logger.Logger) (Store, error) {
	serviceLog := log.With("service", "RedisStateStore")
	addr := utils.GetEnv("REDIS_ADDR", "localhost:6379", log)

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

	return &redisStore{
		rdb:   rdb,
		locks: newParticipantLocks(),
		log:   serviceLog,
	}, nil
}

func (s *redisStore) key(participantID string) string {
	return profileKeyPrefix + participantID
}

func (s *redisStore) Get(ctx context.Context, participantID string) (*profile.StudentProfile, error) {
	raw, err := s.rdb.Get(ctx, s.key(participantID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state store get: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("state store decode: %w", err)
	}
	return profile.FromMap(doc, s.log), nil
}

func (s *redisStore) Put(ctx context.Context, participantID string, p *profile.StudentProfile) error {
	raw, err := json.Marshal(p.ToMap())
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(participantID), raw, 0).Err(); err != nil {
		return fmt.Errorf("state store put: %w", err)
	}
	return nil
}

func (s *redisStore) SetFields(ctx context.Context, participantID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	lock := s.locks.get(participantID)
	lock.Lock()
	defer lock.Unlock()

	key := s.key(participantID)
	txn := func(tx *goredis.Tx) error {
		doc := map[string]any{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == goredis.Nil:
			doc = profile.New(participantID).ToMap()
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
		}
		applyFieldUpdates(doc, fields)
		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if err == goredis.TxFailedErr {
			continue
		}
		return fmt.Errorf("state store set_fields: %w", err)
	}
	return fmt.Errorf("state store set_fields: too much contention for %s", participantID)
}

func (s *redisStore) Delete(ctx context.Context, participantID string) error {
	return s.rdb.Del(ctx, s.key(participantID)).Err()
}
