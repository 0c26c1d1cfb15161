package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

// PostgresStore persists session turns in a single append-only table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_turns (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_session_turns_session
			ON session_turns (session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure session schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_turns (session_id, role, content, agent, model, token_count, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		turn.SessionID,
		string(turn.Role),
		turn.Content,
		string(turn.Agent),
		turn.Model,
		turn.TokenCount,
		turn.LatencyMS,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, role, content, agent, model, token_count, latency_ms, created_at
		FROM (
			SELECT * FROM session_turns
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) tail
		ORDER BY created_at ASC, id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var (
			turn  domain.Turn
			role  string
			agent string
		)
		if err := rows.Scan(
			&turn.SessionID,
			&role,
			&turn.Content,
			&agent,
			&turn.Model,
			&turn.TokenCount,
			&turn.LatencyMS,
			&turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = domain.Role(role)
		turn.Agent = domain.AgentType(agent)
		turns = append(turns, turn)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate history: %w", rows.Err())
	}
	return turns, nil
}

func (s *PostgresStore) RecentSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, COUNT(*) AS turn_count, MAX(created_at) AS last_activity
		FROM session_turns
		GROUP BY session_id
		ORDER BY last_activity DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.SessionSummary, 0, limit)
	for rows.Next() {
		var summary domain.SessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.TurnCount, &summary.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate recent sessions: %w", rows.Err())
	}
	return summaries, nil
}

func (s *PostgresStore) ModelStats(ctx context.Context) ([]domain.ModelUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(token_count), 0), COALESCE(AVG(latency_ms), 0)
		FROM session_turns
		WHERE role = 'assistant'
		GROUP BY model
		ORDER BY model
	`)
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ModelUsage, 0, 4)
	for rows.Next() {
		var usage domain.ModelUsage
		if err := rows.Scan(&usage.Model, &usage.Requests, &usage.TotalTokens, &usage.AvgLatency); err != nil {
			return nil, fmt.Errorf("scan model stats: %w", err)
		}
		result = append(result, usage)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate model stats: %w", rows.Err())
	}
	return result, nil
}

func (s *PostgresStore) AgentStats(ctx context.Context) ([]domain.AgentUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent, COUNT(*)
		FROM session_turns
		WHERE role = 'assistant'
		GROUP BY agent
		ORDER BY agent
	`)
	if err != nil {
		return nil, fmt.Errorf("query agent stats: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AgentUsage, 0, 4)
	for rows.Next() {
		var (
			usage domain.AgentUsage
			agent string
		)
		if err := rows.Scan(&agent, &usage.Requests); err != nil {
			return nil, fmt.Errorf("scan agent stats: %w", err)
		}
		usage.Agent = domain.AgentType(agent)
		result = append(result, usage)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate agent stats: %w", rows.Err())
	}
	return result, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	// The count reports sessions, not turn rows, matching MemoryStore.
	var deleted int
	err := s.pool.QueryRow(ctx, `
		WITH expired AS (
			SELECT session_id FROM session_turns
			GROUP BY session_id
			HAVING MAX(created_at) < $1
		), purged AS (
			DELETE FROM session_turns
			WHERE session_id IN (SELECT session_id FROM expired)
		)
		SELECT COUNT(*) FROM expired
	`, cutoff).Scan(&deleted)
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	return deleted, nil
}
