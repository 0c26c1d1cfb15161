package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/cache"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/dispatch"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/history"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/provider"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/routing"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/session"
)

// Dispatching is the slice of the dispatcher the chat service consumes.
type Dispatching interface {
	Dispatch(ctx context.Context, plan domain.DispatchPlan, request provider.Request) (*dispatch.Result, error)
	DispatchStream(ctx context.Context, plan domain.DispatchPlan, request provider.Request) (*dispatch.Stream, error)
}

var agentInstructions = map[domain.AgentType]string{
	domain.AgentCode:     "You are a code assistant. Provide detailed code analysis and explanations.",
	domain.AgentResearch: "You are a research assistant. Provide comprehensive analysis and information.",
	domain.AgentTaskHelp: "You are a task helper. Provide step-by-step guidance.",
	domain.AgentGeneral:  "You are a helpful assistant.",
}

type ChatDependencies struct {
	Classifier *routing.Classifier
	Table      *routing.Table
	Dispatcher Dispatching
	Store      session.Store
	Builder    *history.Builder
	Cache      *cache.ResponseCache
	Logger     *log.Logger

	Temperature     float64
	MaxOutputTokens int
}

// ChatService runs classify, select, dispatch and best-effort persistence
// for one request. It holds no per-request state.
type ChatService struct {
	classifier      *routing.Classifier
	table           *routing.Table
	dispatcher      Dispatching
	store           session.Store
	builder         *history.Builder
	cache           *cache.ResponseCache
	logger          *log.Logger
	temperature     float64
	maxOutputTokens int
}

type ChatInput struct {
	SessionID string
	Query     string
}

type ChatOutput struct {
	SessionID string
	Answer    string
	Agent     domain.AgentType
	Tier      domain.ComplexityTier
	Model     domain.ModelRef
	Fallback  bool
	Cached    bool
	Usage     domain.TokenUsage
	LatencyMS float64
}

func NewChatService(deps ChatDependencies) *ChatService {
	if deps.Builder == nil {
		deps.Builder = history.NewBuilder(history.BuilderConfig{})
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewResponseCache(cache.Config{})
	}
	if deps.MaxOutputTokens <= 0 {
		deps.MaxOutputTokens = 2000
	}
	return &ChatService{
		classifier:      deps.Classifier,
		table:           deps.Table,
		dispatcher:      deps.Dispatcher,
		store:           deps.Store,
		builder:         deps.Builder,
		cache:           deps.Cache,
		logger:          deps.Logger,
		temperature:     deps.Temperature,
		maxOutputTokens: deps.MaxOutputTokens,
	}
}

func (s *ChatService) Chat(ctx context.Context, input ChatInput) (ChatOutput, error) {
	sessionID := normalizeSessionID(input.SessionID)
	agent, tier := s.classifier.Classify(input.Query)
	plan := s.table.Select(agent, tier)
	turns := s.contextWindow(ctx, sessionID)

	signature := s.cache.BuildSignature(
		string(agent),
		string(tier),
		s.builder.Transcript(turns),
		input.Query,
	)
	if cached, ok := s.cache.Get(signature); ok {
		s.persistExchange(ctx, sessionID, input.Query, cached.Answer, agent, cached.Model.Model, cached.Usage, 0)
		return ChatOutput{
			SessionID: sessionID,
			Answer:    cached.Answer,
			Agent:     agent,
			Tier:      tier,
			Model:     cached.Model,
			Cached:    true,
			Usage:     cached.Usage,
		}, nil
	}

	start := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, plan, provider.Request{
		Instructions:    agentInstructions[agent],
		Turns:           turns,
		Query:           input.Query,
		Temperature:     s.temperature,
		MaxOutputTokens: s.maxOutputTokens,
	})
	if err != nil {
		return ChatOutput{}, err
	}
	latency := float64(time.Since(start).Milliseconds())

	s.cache.Set(signature, cache.Entry{
		Answer: result.Text,
		Model:  result.Model,
		Usage:  result.Usage,
	})
	s.persistExchange(ctx, sessionID, input.Query, result.Text, agent, result.Model.Model, result.Usage, latency)

	return ChatOutput{
		SessionID: sessionID,
		Answer:    result.Text,
		Agent:     agent,
		Tier:      tier,
		Model:     result.Model,
		Fallback:  result.Fallback(),
		Usage:     result.Usage,
		LatencyMS: latency,
	}, nil
}

// StreamOutput carries the committed stream plus the classification that
// produced it. Finish persists the exchange once the caller has drained the
// stream; interrupted streams are not persisted.
type StreamOutput struct {
	SessionID string
	Agent     domain.AgentType
	Tier      domain.ComplexityTier
	Stream    *dispatch.Stream

	service *ChatService
	query   string
	started time.Time
}

func (o *StreamOutput) Finish(ctx context.Context, answer string, usage domain.TokenUsage) {
	latency := float64(time.Since(o.started).Milliseconds())
	o.service.persistExchange(ctx, o.SessionID, o.query, answer, o.Agent, o.Stream.Model.Model, usage, latency)
}

func (s *ChatService) ChatStream(ctx context.Context, input ChatInput) (*StreamOutput, error) {
	sessionID := normalizeSessionID(input.SessionID)
	agent, tier := s.classifier.Classify(input.Query)
	plan := s.table.Select(agent, tier)
	turns := s.contextWindow(ctx, sessionID)

	start := time.Now()
	stream, err := s.dispatcher.DispatchStream(ctx, plan, provider.Request{
		Instructions:    agentInstructions[agent],
		Turns:           turns,
		Query:           input.Query,
		Temperature:     s.temperature,
		MaxOutputTokens: s.maxOutputTokens,
	})
	if err != nil {
		return nil, err
	}

	return &StreamOutput{
		SessionID: sessionID,
		Agent:     agent,
		Tier:      tier,
		Stream:    stream,
		service:   s,
		query:     input.Query,
		started:   start,
	}, nil
}

func (s *ChatService) RecentSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	return s.store.RecentSessions(ctx, limit)
}

func (s *ChatService) SessionHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	return s.store.History(ctx, sessionID, limit)
}

func (s *ChatService) ModelStats(ctx context.Context) ([]domain.ModelUsage, error) {
	return s.store.ModelStats(ctx)
}

func (s *ChatService) AgentStats(ctx context.Context) ([]domain.AgentUsage, error) {
	return s.store.AgentStats(ctx)
}

func (s *ChatService) CleanupSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-olderThan))
}

// RoutingModels exposes the distinct routing table candidates for the model
// status endpoint.
func (s *ChatService) RoutingModels() []domain.ModelRef {
	return s.table.Models()
}

func (s *ChatService) contextWindow(ctx context.Context, sessionID string) []domain.Turn {
	turns, err := s.store.History(ctx, sessionID, s.builder.MaxTurns())
	if err != nil {
		// History is an enrichment, not a prerequisite.
		s.logf("history read failed session=%s err=%v", sessionID, err)
		return nil
	}
	return s.builder.Window(turns)
}

func (s *ChatService) persistExchange(
	ctx context.Context,
	sessionID string,
	query string,
	answer string,
	agent domain.AgentType,
	model string,
	usage domain.TokenUsage,
	latencyMS float64,
) {
	now := time.Now().UTC()
	userTurn := domain.Turn{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   query,
		Agent:     agent,
		CreatedAt: now,
	}
	assistantTurn := domain.Turn{
		SessionID:  sessionID,
		Role:       domain.RoleAssistant,
		Content:    answer,
		Agent:      agent,
		Model:      model,
		TokenCount: usage.TotalTokens,
		LatencyMS:  latencyMS,
		CreatedAt:  now.Add(time.Millisecond),
	}

	if err := s.store.AppendTurn(ctx, userTurn); err != nil {
		s.logf("append user turn failed session=%s err=%v", sessionID, err)
		return
	}
	if err := s.store.AppendTurn(ctx, assistantTurn); err != nil {
		s.logf("append assistant turn failed session=%s err=%v", sessionID, err)
	}
}

func normalizeSessionID(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return "sess_" + uuid.NewString()
	}
	return trimmed
}

func (s *ChatService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
