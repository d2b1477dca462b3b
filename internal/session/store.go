package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/eleven-am/medverify/internal/match"
	"github.com/eleven-am/medverify/internal/shared"
	"github.com/redis/go-redis/v9"
)

const defaultSessionTTL = time.Hour

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewStreamID()
	}
	sess.Status = StatusActive
	sess.StartedAt = time.Now()
	sess.LastActiveAt = sess.StartedAt

	return s.save(ctx, sess)
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = time.Now()
	return s.save(ctx, sess)
}

func (s *Store) EndSession(ctx context.Context, id string, status Status) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Status = status
	return s.UpdateSession(ctx, sess)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.redis.Del(ctx, sessionKey(id), MetricsRedisKey(id)).Err()
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, s.ttl).Err()
}

func (s *Store) IncrementMetric(ctx context.Context, id, field string, value int64) error {
	key := MetricsRedisKey(id)

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordFrame counts one processed frame under its outcome.
func (s *Store) RecordFrame(ctx context.Context, id string, status match.Status, audited bool) error {
	key := MetricsRedisKey(id)

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, MetricFrames, 1)
	switch status {
	case match.StatusSkipped:
		pipe.HIncrBy(ctx, key, MetricSkipped, 1)
	case match.StatusVerified:
		pipe.HIncrBy(ctx, key, MetricInferences, 1)
		pipe.HIncrBy(ctx, key, MetricVerified, 1)
	case match.StatusMismatch:
		pipe.HIncrBy(ctx, key, MetricInferences, 1)
		pipe.HIncrBy(ctx, key, MetricMismatched, 1)
	case match.StatusError:
		pipe.HIncrBy(ctx, key, MetricErrors, 1)
	}
	if audited {
		pipe.HIncrBy(ctx, key, MetricAudited, 1)
	}
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetMetrics(ctx context.Context, id string) (*Metrics, error) {
	data, err := s.redis.HGetAll(ctx, MetricsRedisKey(id)).Result()
	if err != nil {
		return nil, err
	}

	m := &Metrics{SessionID: id}
	fields := map[string]*int64{
		MetricFrames:     &m.Frames,
		MetricInferences: &m.Inferences,
		MetricSkipped:    &m.Skipped,
		MetricVerified:   &m.Verified,
		MetricMismatched: &m.Mismatched,
		MetricErrors:     &m.Errors,
		MetricAudited:    &m.Audited,
	}
	for name, dst := range fields {
		if v, ok := data[name]; ok {
			*dst, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return m, nil
}
