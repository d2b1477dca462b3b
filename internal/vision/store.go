package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultMaxFrames = 10

type Store struct {
	redis     *redis.Client
	frameTTL  time.Duration
	maxFrames int64
}

func NewStore(redisClient *redis.Client, cfg StoreConfig) *Store {
	if cfg.FrameTTL == 0 {
		cfg.FrameTTL = 60 * time.Second
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	return &Store{
		redis:     redisClient,
		frameTTL:  cfg.FrameTTL,
		maxFrames: cfg.MaxFrames,
	}
}

func framesKey(sessionID string) string {
	return fmt.Sprintf("stream:%s:frames", sessionID)
}

func (s *Store) StoreFrame(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := framesKey(snap.SessionID)
	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(snap.Timestamp), Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, -s.maxFrames-1)
	pipe.Expire(ctx, key, s.frameTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetLatestFrame(ctx context.Context, sessionID string) (*Snapshot, error) {
	results, err := s.redis.ZRevRangeWithScores(ctx, framesKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	member, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("invalid snapshot data type")
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(member), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) CountFrames(ctx context.Context, sessionID string) (int64, error) {
	return s.redis.ZCard(ctx, framesKey(sessionID)).Result()
}

func (s *Store) DeleteFrames(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, framesKey(sessionID)).Err()
}
