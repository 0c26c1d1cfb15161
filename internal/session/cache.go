package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

type CacheConfig struct {
	Client *redis.Client
	// MaxTurns bounds how many recent turns are kept per session key.
	MaxTurns int
	TTL      time.Duration
	Logger   *log.Logger
}

// CachedStore keeps the recent tail of each session in a Redis list so the
// hot history read on every chat request skips Postgres. Cache failures
// degrade to the wrapped store, never to request failures.
type CachedStore struct {
	store    Store
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
	logger   *log.Logger
}

func NewCachedStore(store Store, config CacheConfig) *CachedStore {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 50
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	return &CachedStore{
		store:    store,
		client:   config.Client,
		maxTurns: config.MaxTurns,
		ttl:      config.TTL,
		logger:   config.Logger,
	}
}

func (s *CachedStore) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if err := s.store.AppendTurn(ctx, turn); err != nil {
		return err
	}
	s.pushTail(ctx, turn)
	return nil
}

func (s *CachedStore) History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 || limit > s.maxTurns {
		return s.store.History(ctx, sessionID, limit)
	}

	key := s.key(sessionID)
	encoded, err := s.client.LRange(ctx, key, 0, int64(s.maxTurns-1)).Result()
	if err == nil && len(encoded) > 0 {
		turns := decodeTurns(encoded)
		if len(turns) > 0 {
			if len(turns) > limit {
				turns = turns[len(turns)-limit:]
			}
			return turns, nil
		}
	}
	if err != nil {
		s.logf("history cache read failed session=%s err=%v", sessionID, err)
	}

	turns, err := s.store.History(ctx, sessionID, s.maxTurns)
	if err != nil {
		return nil, err
	}
	s.seedTail(ctx, sessionID, turns)
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *CachedStore) RecentSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	return s.store.RecentSessions(ctx, limit)
}

func (s *CachedStore) ModelStats(ctx context.Context) ([]domain.ModelUsage, error) {
	return s.store.ModelStats(ctx)
}

func (s *CachedStore) AgentStats(ctx context.Context) ([]domain.AgentUsage, error) {
	return s.store.AgentStats(ctx)
}

func (s *CachedStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	// Cached tails expire on their own TTL; stale entries for deleted
	// sessions only linger until then.
	return s.store.DeleteOlderThan(ctx, cutoff)
}

func (s *CachedStore) pushTail(ctx context.Context, turn domain.Turn) {
	payload, err := json.Marshal(turn)
	if err != nil {
		return
	}
	key := s.key(turn.SessionID)

	pipeline := s.client.Pipeline()
	pipeline.LPush(ctx, key, payload)
	pipeline.LTrim(ctx, key, 0, int64(s.maxTurns-1))
	pipeline.Expire(ctx, key, s.ttl)
	if _, err := pipeline.Exec(ctx); err != nil {
		s.logf("history cache push failed session=%s err=%v", turn.SessionID, err)
	}
}

func (s *CachedStore) seedTail(ctx context.Context, sessionID string, turns []domain.Turn) {
	if len(turns) == 0 {
		return
	}
	key := s.key(sessionID)

	pipeline := s.client.Pipeline()
	pipeline.Del(ctx, key)
	// Lists store newest first; seed in reverse so LRange order matches.
	for index := len(turns) - 1; index >= 0; index-- {
		payload, err := json.Marshal(turns[index])
		if err != nil {
			return
		}
		pipeline.RPush(ctx, key, payload)
	}
	pipeline.Expire(ctx, key, s.ttl)
	if _, err := pipeline.Exec(ctx); err != nil {
		s.logf("history cache seed failed session=%s err=%v", sessionID, err)
	}
}

func (s *CachedStore) key(sessionID string) string {
	return "chat:history:" + sessionID
}

func decodeTurns(encoded []string) []domain.Turn {
	// LRange returns newest first.
	turns := make([]domain.Turn, 0, len(encoded))
	for index := len(encoded) - 1; index >= 0; index-- {
		var turn domain.Turn
		if err := json.Unmarshal([]byte(encoded[index]), &turn); err != nil {
			return nil
		}
		turns = append(turns, turn)
	}
	return turns
}

func (s *CachedStore) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
