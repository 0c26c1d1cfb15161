package session

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

// An unreachable Redis exercises the degrade path: every cache operation
// fails and the wrapped store must still serve reads and writes.
func unreachableCache(t *testing.T, store Store) *CachedStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedStore(store, CacheConfig{
		Client: client,
		Logger: log.New(io.Discard, "", 0),
	})
}

func TestCachedStoreDegradesOnAppend(t *testing.T) {
	inner := NewMemoryStore()
	cached := unreachableCache(t, inner)
	ctx := context.Background()

	err := cached.AppendTurn(ctx, domain.Turn{
		SessionID: "sess_x",
		Role:      domain.RoleUser,
		Content:   "hello",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	turns, err := inner.History(ctx, "sess_x", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("wrapped store turns = %d, want 1", len(turns))
	}
}

func TestCachedStoreDegradesOnHistory(t *testing.T) {
	inner := NewMemoryStore()
	cached := unreachableCache(t, inner)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, inner, "sess_y", base, domain.AgentGeneral, "m")

	turns, err := cached.History(ctx, "sess_y", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("History() length = %d, want 2", len(turns))
	}
}

func TestCachedStoreLargeLimitBypassesCache(t *testing.T) {
	inner := NewMemoryStore()
	cached := unreachableCache(t, inner)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, inner, "sess_z", base, domain.AgentGeneral, "m")

	turns, err := cached.History(ctx, "sess_z", 500)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("History() length = %d, want 2", len(turns))
	}
}

func TestCachedStorePassThroughs(t *testing.T) {
	inner := NewMemoryStore()
	cached := unreachableCache(t, inner)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, inner, "sess_p", base, domain.AgentCode, "m")

	if summaries, err := cached.RecentSessions(ctx, 10); err != nil || len(summaries) != 1 {
		t.Errorf("RecentSessions() = %v, %v", summaries, err)
	}
	if stats, err := cached.ModelStats(ctx); err != nil || len(stats) != 1 {
		t.Errorf("ModelStats() = %v, %v", stats, err)
	}
	if stats, err := cached.AgentStats(ctx); err != nil || len(stats) != 1 {
		t.Errorf("AgentStats() = %v, %v", stats, err)
	}
	if deleted, err := cached.DeleteOlderThan(ctx, base.Add(time.Hour)); err != nil || deleted != 1 {
		t.Errorf("DeleteOlderThan() = %d, %v", deleted, err)
	}
}

func TestDecodeTurnsReversesOrder(t *testing.T) {
	// Cache lists hold newest first; decode must return oldest first.
	encoded := []string{
		`{"session_id":"s","role":"assistant","content":"second"}`,
		`{"session_id":"s","role":"user","content":"first"}`,
	}

	turns := decodeTurns(encoded)
	if len(turns) != 2 {
		t.Fatalf("decodeTurns() length = %d, want 2", len(turns))
	}
	if turns[0].Content != "first" || turns[1].Content != "second" {
		t.Errorf("decodeTurns() order = [%q, %q]", turns[0].Content, turns[1].Content)
	}
}

func TestDecodeTurnsMalformedEntry(t *testing.T) {
	if turns := decodeTurns([]string{"not json"}); turns != nil {
		t.Errorf("decodeTurns() = %v, want nil", turns)
	}
}
