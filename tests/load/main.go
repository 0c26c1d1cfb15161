package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/dispatch"
	httpserver "github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/handlers"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/provider"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/routing"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/service"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/session"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type cacheResult struct {
	ColdMS     float64 `json:"cold_ms"`
	WarmMS     float64 `json:"warm_ms"`
	SpeedupPct float64 `json:"speedup_pct"`
}

type runResult struct {
	GeneratedAtUTC  string           `json:"generated_at_utc"`
	Environment     string           `json:"environment"`
	Results         []scenarioResult `json:"results"`
	ResponseCaching cacheResult      `json:"response_caching"`
	SLOEvaluation   map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
}

// benchClient serves canned completions with a small artificial delay so
// scenario latencies resemble a fast upstream rather than pure router
// overhead.
type benchClient struct {
	delay time.Duration
}

func (c benchClient) Available() bool { return true }

func (c benchClient) Complete(ctx context.Context, request provider.Request) (provider.Completion, error) {
	select {
	case <-ctx.Done():
		return provider.Completion{}, ctx.Err()
	case <-time.After(c.delay):
	}
	return provider.Completion{Text: "benchmark answer for: " + request.Query}, nil
}

func (c benchClient) CompleteStream(ctx context.Context, request provider.Request) (provider.ChunkStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}
	return &benchStream{chunks: []provider.Chunk{
		{Text: "benchmark "},
		{Text: "stream"},
		{Final: true},
	}}, nil
}

type benchStream struct {
	chunks []provider.Chunk
}

func (s *benchStream) Recv() (provider.Chunk, error) {
	if len(s.chunks) == 0 {
		return provider.Chunk{}, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *benchStream) Close() error { return nil }

func main() {
	chatTotal := flag.Int("chat-total", 300, "total chat requests")
	chatConcurrency := flag.Int("chat-concurrency", 24, "concurrency for chat requests")
	streamTotal := flag.Int("stream-total", 120, "total streaming chat requests")
	streamConcurrency := flag.Int("stream-concurrency", 16, "concurrency for streaming chat requests")
	sessionsTotal := flag.Int("sessions-total", 150, "total recent-session list requests")
	sessionsConcurrency := flag.Int("sessions-concurrency", 20, "concurrency for session list requests")
	statsTotal := flag.Int("stats-total", 150, "total stats requests")
	statsConcurrency := flag.Int("stats-concurrency", 20, "concurrency for stats requests")
	upstreamDelay := flag.Duration("upstream-delay", 5*time.Millisecond, "simulated upstream latency")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env := startBenchmarkEnvironment(*upstreamDelay)
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	chatScenario := runScenario("chat_sync", *chatTotal, *chatConcurrency, func(index int) error {
		payload := map[string]any{
			"query":      fmt.Sprintf("How do I debug error %d in my function?", index),
			"session_id": fmt.Sprintf("sess_bench_%d", index%32),
		}
		return postJSON(client, env.server.URL+"/v1/chat", payload, http.StatusOK)
	})

	streamScenario := runScenario("chat_stream", *streamTotal, *streamConcurrency, func(index int) error {
		payload := map[string]any{
			"query":      fmt.Sprintf("Explain topic %d step by step", index),
			"session_id": fmt.Sprintf("sess_stream_bench_%d", index%32),
		}
		return drainStream(client, env.server.URL+"/v1/chat/stream", payload)
	})

	sessionsScenario := runScenario("sessions_recent", *sessionsTotal, *sessionsConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/sessions/recent?limit=20", http.StatusOK)
	})

	statsScenario := runScenario("stats_models", *statsTotal, *statsConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/stats/models", http.StatusOK)
	})

	caching := runCacheScenario(client, env.server.URL)

	results := []scenarioResult{
		chatScenario,
		streamScenario,
		sessionsScenario,
		statsScenario,
	}

	slo := map[string]bool{
		"chat_endpoint_p95_le_2000ms":    chatScenario.P95MS <= 2000,
		"stream_endpoint_p95_le_5000ms":  streamScenario.P95MS <= 5000,
		"sessions_endpoint_p95_le_500ms": sessionsScenario.P95MS <= 500,
		"stats_endpoint_p95_le_500ms":    statsScenario.P95MS <= 500,
	}

	report := runResult{
		GeneratedAtUTC:  time.Now().UTC().Format(time.RFC3339Nano),
		Environment:     "local-httptest",
		Results:         results,
		ResponseCaching: caching,
		SLOEvaluation:   slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(upstreamDelay time.Duration) *benchmarkEnv {
	logger := log.New(io.Discard, "", 0)

	registry := provider.NewRegistry()
	registry.Register(routing.ProviderGoogle, benchClient{delay: upstreamDelay})
	registry.Register(routing.ProviderZAI, benchClient{delay: upstreamDelay})

	chatService := service.NewChatService(service.ChatDependencies{
		Classifier: routing.NewClassifier(routing.ClassifierConfig{}),
		Table:      routing.NewTable(routing.TableConfig{}),
		Dispatcher: dispatch.New(dispatch.Config{
			Registry:       registry,
			AttemptTimeout: 5 * time.Second,
			Logger:         logger,
		}),
		Store:  session.NewMemoryStore(),
		Logger: logger,
	})

	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(chatService, registry),
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	return &benchmarkEnv{server: httptest.NewServer(router)}
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

// runCacheScenario measures the same query cold then warm. Both probes use
// fresh sessions so the context signature matches and the second answer is
// served from the response cache without an upstream round trip.
func runCacheScenario(client *http.Client, baseURL string) cacheResult {
	coldStart := time.Now()
	if err := postJSON(client, baseURL+"/v1/chat", map[string]any{
		"query":      "What is the capital of France?",
		"session_id": "sess_cache_cold",
	}, http.StatusOK); err != nil {
		return cacheResult{}
	}
	cold := float64(time.Since(coldStart).Microseconds()) / 1000.0

	warmStart := time.Now()
	if err := postJSON(client, baseURL+"/v1/chat", map[string]any{
		"query":      "What is the capital of France?",
		"session_id": "sess_cache_warm",
	}, http.StatusOK); err != nil {
		return cacheResult{}
	}
	warm := float64(time.Since(warmStart).Microseconds()) / 1000.0

	speedup := 0.0
	if cold > 0 {
		speedup = ((cold - warm) / cold) * 100
	}
	return cacheResult{
		ColdMS:     round2(cold),
		WarmMS:     round2(warm),
		SpeedupPct: round2(speedup),
	}
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func drainStream(client *http.Client, url string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", response.StatusCode, string(body))
	}

	sawDone := false
	scanner := bufio.NewScanner(response.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "event: done" {
			sawDone = true
		}
		if line == "event: error" {
			return fmt.Errorf("stream reported an error event")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !sawDone {
		return fmt.Errorf("stream ended without done event")
	}
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
