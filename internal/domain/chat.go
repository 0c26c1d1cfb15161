package domain

import "time"

type AgentType string

const (
	AgentCode     AgentType = "code"
	AgentResearch AgentType = "research"
	AgentTaskHelp AgentType = "task_help"
	AgentGeneral  AgentType = "general"
)

type ComplexityTier string

const (
	TierSimple  ComplexityTier = "simple"
	TierComplex ComplexityTier = "complex"
)

// ModelRef identifies one candidate backend: a concrete model at a provider.
type ModelRef struct {
	Provider string
	Model    string
	Streams  bool
}

func (m ModelRef) String() string {
	return m.Provider + "/" + m.Model
}

// DispatchPlan is the ordered fallback sequence tried for one request.
// A plan produced by the routing table is never empty.
type DispatchPlan []ModelRef

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one persisted message of a session. TokenCount and LatencyMS are
// only meaningful on assistant turns.
type Turn struct {
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Agent      AgentType `json:"agent,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
	LatencyMS  float64   `json:"latency_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SessionSummary is a listing row for recent sessions.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	TurnCount    int       `json:"turn_count"`
	LastActivity time.Time `json:"last_activity"`
}

// ModelUsage aggregates served completions per model.
type ModelUsage struct {
	Model       string  `json:"model"`
	Requests    int     `json:"requests"`
	TotalTokens int     `json:"total_tokens"`
	AvgLatency  float64 `json:"avg_latency_ms"`
}

// AgentUsage aggregates served completions per agent type.
type AgentUsage struct {
	Agent    AgentType `json:"agent"`
	Requests int       `json:"requests"`
}
