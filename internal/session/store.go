package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

var ErrNotFound = errors.New("session not found")

// Store abstracts session persistence. Appends are best-effort from the
// caller's perspective: a completion that succeeded is still delivered even
// when persistence fails. Concurrent appends against the same session id are
// last-write ordered; the store provides no session-level locking.
type Store interface {
	AppendTurn(ctx context.Context, turn domain.Turn) error
	History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	RecentSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error)
	ModelStats(ctx context.Context) ([]domain.ModelUsage, error)
	AgentStats(ctx context.Context) ([]domain.AgentUsage, error)
	// DeleteOlderThan removes every session whose last activity predates the
	// cutoff and returns the number of sessions removed, not turn rows.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps sessions in memory for local development.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]domain.Turn
	stats []statRecord
}

type statRecord struct {
	agent     domain.AgentType
	model     string
	tokens    int
	latencyMS float64
	createdAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]domain.Turn)}
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	if turn.Role == domain.RoleAssistant {
		s.stats = append(s.stats, statRecord{
			agent:     turn.Agent,
			model:     turn.Model,
			tokens:    turn.TokenCount,
			latencyMS: turn.LatencyMS,
			createdAt: turn.CreatedAt,
		})
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return []domain.Turn{}, nil
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...), nil
}

func (s *MemoryStore) RecentSessions(_ context.Context, limit int) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.SessionSummary, 0, len(s.turns))
	for sessionID, turns := range s.turns {
		if len(turns) == 0 {
			continue
		}
		summaries = append(summaries, domain.SessionSummary{
			SessionID:    sessionID,
			TurnCount:    len(turns),
			LastActivity: turns[len(turns)-1].CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *MemoryStore) ModelStats(_ context.Context) ([]domain.ModelUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModel := make(map[string]*domain.ModelUsage)
	totalLatency := make(map[string]float64)
	for _, record := range s.stats {
		usage, ok := byModel[record.model]
		if !ok {
			usage = &domain.ModelUsage{Model: record.model}
			byModel[record.model] = usage
		}
		usage.Requests++
		usage.TotalTokens += record.tokens
		totalLatency[record.model] += record.latencyMS
	}

	result := make([]domain.ModelUsage, 0, len(byModel))
	for model, usage := range byModel {
		if usage.Requests > 0 {
			usage.AvgLatency = totalLatency[model] / float64(usage.Requests)
		}
		result = append(result, *usage)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Model < result[j].Model })
	return result, nil
}

func (s *MemoryStore) AgentStats(_ context.Context) ([]domain.AgentUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAgent := make(map[domain.AgentType]int)
	for _, record := range s.stats {
		byAgent[record.agent]++
	}

	result := make([]domain.AgentUsage, 0, len(byAgent))
	for agent, requests := range byAgent {
		result = append(result, domain.AgentUsage{Agent: agent, Requests: requests})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Agent < result[j].Agent })
	return result, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for sessionID, turns := range s.turns {
		if len(turns) == 0 || turns[len(turns)-1].CreatedAt.Before(cutoff) {
			delete(s.turns, sessionID)
			deleted++
		}
	}

	kept := s.stats[:0]
	for _, record := range s.stats {
		if !record.createdAt.Before(cutoff) {
			kept = append(kept, record)
		}
	}
	s.stats = kept
	return deleted, nil
}
