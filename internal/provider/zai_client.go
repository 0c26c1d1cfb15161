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

type ZAIClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	AppName    string
}

// ZAIClient talks to the Z.ai OpenAI-compatible chat completions API.
type ZAIClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	appName    string
}

func NewZAIClient(config ZAIClientConfig) *ZAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.z.ai/v1"
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
	if strings.TrimSpace(config.AppName) == "" {
		config.AppName = "Nebula Gateway"
	}

	return &ZAIClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		appName:    strings.TrimSpace(config.AppName),
	}
}

func (c *ZAIClient) Available() bool {
	return c.apiKey != ""
}

func (c *ZAIClient) Complete(ctx context.Context, request Request) (Completion, error) {
	payload, err := c.encodePayload(request, false)
	if err != nil {
		return Completion{}, err
	}

	var result Completion
	operation := func() error {
		callResult, callErr := c.callChatCompletions(ctx, payload, request.Model)
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

func (c *ZAIClient) CompleteStream(ctx context.Context, request Request) (ChunkStream, error) {
	payload, err := c.encodePayload(request, true)
	if err != nil {
		return nil, err
	}

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create zai stream request: %w", err)
	}
	c.setHeaders(httpRequest)
	httpRequest.Header.Set("Accept", "text/event-stream")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		defer httpResponse.Body.Close()
		return nil, c.statusError(httpResponse)
	}

	return &zaiStream{
		scanner: bufio.NewScanner(httpResponse.Body),
		body:    httpResponse.Body,
	}, nil
}

func (c *ZAIClient) encodePayload(request Request, stream bool) ([]byte, error) {
	if !c.Available() {
		return nil, ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return nil, errors.New("model is required")
	}
	if strings.TrimSpace(request.Query) == "" {
		return nil, errors.New("query is required")
	}

	messages := make([]map[string]string, 0, len(request.Turns)+2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": strings.TrimSpace(request.Instructions),
		})
	}
	for _, turn := range request.Turns {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, map[string]string{
			"role":    role,
			"content": turn.Content,
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": request.Query,
	})

	payload := map[string]any{
		"model":    request.Model,
		"messages": messages,
	}
	if request.Temperature > 0 {
		payload["temperature"] = request.Temperature
	}
	if request.MaxOutputTokens > 0 {
		payload["max_tokens"] = request.MaxOutputTokens
	}
	if stream {
		payload["stream"] = true
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal zai payload: %w", err)
	}
	return encoded, nil
}

func (c *ZAIClient) callChatCompletions(
	ctx context.Context,
	payload []byte,
	requestedModel string,
) (Completion, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("create zai request: %w", err)
	}
	c.setHeaders(httpRequest)
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Completion{}, c.transportError(timeoutCtx, err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read zai body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return Completion{}, &Error{
			Provider:   "zai",
			Kind:       classifyStatus(httpResponse.StatusCode),
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw zaiChatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Completion{}, &Error{
			Provider: "zai",
			Kind:     ErrKindMalformed,
			Message:  "decode response: " + err.Error(),
			Cause:    err,
		}
	}
	if len(raw.Choices) == 0 || strings.TrimSpace(raw.Choices[0].Message.Content) == "" {
		return Completion{}, &Error{
			Provider: "zai",
			Kind:     ErrKindMalformed,
			Message:  "response without text output",
		}
	}

	text := strings.TrimSpace(raw.Choices[0].Message.Content)
	usage := domain.TokenUsage{
		InputTokens:  raw.Usage.PromptTokens,
		OutputTokens: raw.Usage.CompletionTokens,
		TotalTokens:  raw.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.OutputTokens = estimateTokens(text)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return Completion{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, requestedModel),
		Usage:   usage,
	}, nil
}

func (c *ZAIClient) setHeaders(httpRequest *http.Request) {
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.appName != "" {
		httpRequest.Header.Set("X-Title", c.appName)
	}
}

func (c *ZAIClient) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Provider: "zai", Kind: ErrKindTimeout, Message: err.Error(), Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Provider: "zai", Kind: ErrKindUpstream, Message: err.Error(), Cause: err}
}

func (c *ZAIClient) statusError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 700))
	return &Error{
		Provider:   "zai",
		Kind:       classifyStatus(httpResponse.StatusCode),
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

type zaiChatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type zaiStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// zaiStream reads server-sent events off the chat completions stream. The
// terminal "[DONE]" marker becomes a Final chunk; EOF without it is a
// malformed stream.
type zaiStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	usage   domain.TokenUsage
	done    bool
}

func (s *zaiStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return Chunk{Final: true, Usage: s.usage}, nil
		}

		var event zaiStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return Chunk{}, &Error{
				Provider: "zai",
				Kind:     ErrKindMalformed,
				Message:  "decode stream event: " + err.Error(),
				Cause:    err,
			}
		}
		if event.Usage != nil {
			s.usage = domain.TokenUsage{
				InputTokens:  event.Usage.PromptTokens,
				OutputTokens: event.Usage.CompletionTokens,
				TotalTokens:  event.Usage.TotalTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}
		if event.Choices[0].Delta.Content != "" {
			return Chunk{Text: event.Choices[0].Delta.Content}, nil
		}
		if event.Choices[0].FinishReason != "" {
			s.done = true
			return Chunk{Final: true, Usage: s.usage}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Chunk{}, &Error{Provider: "zai", Kind: ErrKindUpstream, Message: err.Error(), Cause: err}
	}
	return Chunk{}, &Error{Provider: "zai", Kind: ErrKindMalformed, Message: "stream ended without completion marker"}
}

func (s *zaiStream) Close() error {
	return s.body.Close()
}

func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
