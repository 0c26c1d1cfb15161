package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

type GeminiClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// GeminiClient talks to the Google Generative Language API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewGeminiClient(config GeminiClientConfig) *GeminiClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &GeminiClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

func (c *GeminiClient) Available() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) Complete(ctx context.Context, request Request) (Completion, error) {
	payload, err := c.encodePayload(request)
	if err != nil {
		return Completion{}, err
	}

	var result Completion
	operation := func() error {
		callResult, callErr := c.callGenerateContent(ctx, request.Model, payload)
		if callErr != nil {
			if retryable(callErr) {
				return callErr
			}
			return backoff.Permanent(callErr)
		}
		result = callResult
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return Completion{}, err
	}
	return result, nil
}

func (c *GeminiClient) CompleteStream(ctx context.Context, request Request) (ChunkStream, error) {
	payload, err := c.encodePayload(request)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		c.baseURL, request.Model, c.apiKey,
	)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create gemini stream request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "text/event-stream")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		defer httpResponse.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 700))
		return nil, &Error{
			Provider:   "google",
			Kind:       classifyStatus(httpResponse.StatusCode),
			StatusCode: httpResponse.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return &geminiStream{
		scanner: bufio.NewScanner(httpResponse.Body),
		body:    httpResponse.Body,
	}, nil
}

func (c *GeminiClient) encodePayload(request Request) ([]byte, error) {
	if !c.Available() {
		return nil, ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return nil, errors.New("model is required")
	}
	if strings.TrimSpace(request.Query) == "" {
		return nil, errors.New("query is required")
	}

	contents := make([]geminiContent, 0, len(request.Turns)+1)
	for _, turn := range request.Turns {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: request.Query}},
	})

	payload := geminiGenerateRequest{Contents: contents}
	if strings.TrimSpace(request.Instructions) != "" {
		payload.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.TrimSpace(request.Instructions)}},
		}
	}
	if request.Temperature > 0 || request.MaxOutputTokens > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			Temperature:     request.Temperature,
			MaxOutputTokens: request.MaxOutputTokens,
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini payload: %w", err)
	}
	return encoded, nil
}

func (c *GeminiClient) callGenerateContent(ctx context.Context, model string, payload []byte) (Completion, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("create gemini request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Completion{}, c.transportError(timeoutCtx, err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read gemini body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return Completion{}, &Error{
			Provider:   "google",
			Kind:       classifyStatus(httpResponse.StatusCode),
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw geminiGenerateResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Completion{}, &Error{
			Provider: "google",
			Kind:     ErrKindMalformed,
			Message:  "decode response: " + err.Error(),
			Cause:    err,
		}
	}

	text := raw.text()
	if text == "" {
		return Completion{}, &Error{
			Provider: "google",
			Kind:     ErrKindMalformed,
			Message:  "response without text output",
		}
	}

	usage := domain.TokenUsage{
		InputTokens:  raw.UsageMetadata.PromptTokenCount,
		OutputTokens: raw.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  raw.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.OutputTokens = estimateTokens(text)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return Completion{Text: text, ModelID: model, Usage: usage}, nil
}

func (c *GeminiClient) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Provider: "google", Kind: ErrKindTimeout, Message: err.Error(), Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Provider: "google", Kind: ErrKindUpstream, Message: err.Error(), Cause: err}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (r geminiGenerateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	fragments := make([]string, 0, len(r.Candidates[0].Content.Parts))
	for _, part := range r.Candidates[0].Content.Parts {
		if strings.TrimSpace(part.Text) == "" {
			continue
		}
		fragments = append(fragments, part.Text)
	}
	return strings.TrimSpace(strings.Join(fragments, ""))
}

// geminiStream reads server-sent events off streamGenerateContent. The API
// closes the stream after the finishReason event instead of sending an
// explicit done marker, so a clean EOF also terminates the stream.
type geminiStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	usage   domain.TokenUsage
	done    bool
}

func (s *geminiStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event geminiGenerateResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return Chunk{}, &Error{
				Provider: "google",
				Kind:     ErrKindMalformed,
				Message:  "decode stream event: " + err.Error(),
				Cause:    err,
			}
		}
		if event.UsageMetadata.TotalTokenCount > 0 {
			s.usage = domain.TokenUsage{
				InputTokens:  event.UsageMetadata.PromptTokenCount,
				OutputTokens: event.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  event.UsageMetadata.TotalTokenCount,
			}
		}

		text := event.text()
		if text != "" {
			return Chunk{Text: text}, nil
		}
		if len(event.Candidates) > 0 && event.Candidates[0].FinishReason != "" {
			s.done = true
			return Chunk{Final: true, Usage: s.usage}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Chunk{}, &Error{Provider: "google", Kind: ErrKindUpstream, Message: err.Error(), Cause: err}
	}
	s.done = true
	return Chunk{Final: true, Usage: s.usage}, nil
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}
