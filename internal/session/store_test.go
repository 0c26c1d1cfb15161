package session

import (
	"context"
	"testing"
	"time"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

func appendExchange(t *testing.T, store Store, sessionID string, at time.Time, agent domain.AgentType, model string) {
	t.Helper()
	ctx := context.Background()
	if err := store.AppendTurn(ctx, domain.Turn{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   "question",
		CreatedAt: at,
	}); err != nil {
		t.Fatalf("AppendTurn(user) error = %v", err)
	}
	if err := store.AppendTurn(ctx, domain.Turn{
		SessionID:  sessionID,
		Role:       domain.RoleAssistant,
		Content:    "answer",
		Agent:      agent,
		Model:      model,
		TokenCount: 10,
		LatencyMS:  100,
		CreatedAt:  at.Add(time.Millisecond),
	}); err != nil {
		t.Fatalf("AppendTurn(assistant) error = %v", err)
	}
}

func TestMemoryStoreHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		appendExchange(t, store, "sess_a", base.Add(time.Duration(i)*time.Minute), domain.AgentGeneral, "m")
	}

	turns, err := store.History(ctx, "sess_a", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("History() length = %d, want 6", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[5].Role != domain.RoleAssistant {
		t.Error("history order is not oldest first")
	}

	tail, err := store.History(ctx, "sess_a", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("History(limit=2) length = %d, want 2", len(tail))
	}
	if !tail[1].CreatedAt.After(tail[0].CreatedAt) {
		t.Error("limited history did not keep the newest turns")
	}
}

func TestMemoryStoreHistoryUnknownSession(t *testing.T) {
	store := NewMemoryStore()

	turns, err := store.History(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("History() length = %d, want 0", len(turns))
	}
}

func TestMemoryStoreRecentSessions(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, store, "sess_old", base, domain.AgentGeneral, "m")
	appendExchange(t, store, "sess_new", base.Add(time.Hour), domain.AgentGeneral, "m")

	summaries, err := store.RecentSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentSessions() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("RecentSessions() length = %d, want 2", len(summaries))
	}
	if summaries[0].SessionID != "sess_new" {
		t.Errorf("first session = %q, want sess_new", summaries[0].SessionID)
	}
	if summaries[0].TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", summaries[0].TurnCount)
	}

	limited, err := store.RecentSessions(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentSessions(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("RecentSessions(limit=1) length = %d, want 1", len(limited))
	}
}

func TestMemoryStoreModelStats(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, store, "a", base, domain.AgentCode, "google/gemini-1.5-flash")
	appendExchange(t, store, "b", base, domain.AgentCode, "google/gemini-1.5-flash")
	appendExchange(t, store, "c", base, domain.AgentResearch, "zai/zai-large")

	stats, err := store.ModelStats(context.Background())
	if err != nil {
		t.Fatalf("ModelStats() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("ModelStats() length = %d, want 2", len(stats))
	}
	if stats[0].Model != "google/gemini-1.5-flash" || stats[0].Requests != 2 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[0].TotalTokens != 20 {
		t.Errorf("TotalTokens = %d, want 20", stats[0].TotalTokens)
	}
	if stats[0].AvgLatency != 100 {
		t.Errorf("AvgLatency = %v, want 100", stats[0].AvgLatency)
	}
}

func TestMemoryStoreAgentStats(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, store, "a", base, domain.AgentCode, "m")
	appendExchange(t, store, "b", base, domain.AgentCode, "m")
	appendExchange(t, store, "c", base, domain.AgentGeneral, "m")

	stats, err := store.AgentStats(context.Background())
	if err != nil {
		t.Fatalf("AgentStats() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("AgentStats() length = %d, want 2", len(stats))
	}
	for _, usage := range stats {
		switch usage.Agent {
		case domain.AgentCode:
			if usage.Requests != 2 {
				t.Errorf("code requests = %d, want 2", usage.Requests)
			}
		case domain.AgentGeneral:
			if usage.Requests != 1 {
				t.Errorf("general requests = %d, want 1", usage.Requests)
			}
		default:
			t.Errorf("unexpected agent %q in stats", usage.Agent)
		}
	}
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	appendExchange(t, store, "sess_stale", base.Add(-48*time.Hour), domain.AgentGeneral, "m")
	appendExchange(t, store, "sess_live", base, domain.AgentGeneral, "m")

	deleted, err := store.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if turns, _ := store.History(ctx, "sess_stale", 0); len(turns) != 0 {
		t.Error("stale session survived cleanup")
	}
	if turns, _ := store.History(ctx, "sess_live", 0); len(turns) != 2 {
		t.Error("live session was removed by cleanup")
	}

	stats, err := store.ModelStats(ctx)
	if err != nil {
		t.Fatalf("ModelStats() error = %v", err)
	}
	if len(stats) != 1 || stats[0].Requests != 1 {
		t.Errorf("stats after cleanup = %+v", stats)
	}
}

func TestMemoryStoreDeleteOlderThanCountsSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Two stale sessions with five exchanges each: the count must report
	// sessions removed, not the twenty turn rows behind them.
	for i := 0; i < 5; i++ {
		at := base.Add(-72*time.Hour + time.Duration(i)*time.Minute)
		appendExchange(t, store, "sess_stale_a", at, domain.AgentGeneral, "m")
		appendExchange(t, store, "sess_stale_b", at, domain.AgentGeneral, "m")
	}

	deleted, err := store.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2 sessions", deleted)
	}
}

func TestMemoryStoreSessionActiveSinceCutoffKept(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Old turns plus recent activity: last activity decides retention.
	appendExchange(t, store, "sess_mixed", base.Add(-72*time.Hour), domain.AgentGeneral, "m")
	appendExchange(t, store, "sess_mixed", base, domain.AgentGeneral, "m")

	deleted, err := store.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
	if turns, _ := store.History(ctx, "sess_mixed", 0); len(turns) != 4 {
		t.Error("recently active session was removed")
	}
}
