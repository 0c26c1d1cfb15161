package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

func newGeminiTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGeminiClient(GeminiClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
}

func TestGeminiClientComplete(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key query param = %q", r.URL.Query().Get("key"))
		}

		var payload geminiGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.SystemInstruction == nil {
			t.Error("system instruction missing")
		}
		if len(payload.Contents) != 3 {
			t.Fatalf("contents length = %d, want 3", len(payload.Contents))
		}
		if payload.Contents[1].Role != "model" {
			t.Errorf("assistant turn role = %q, want model", payload.Contents[1].Role)
		}
		if payload.GenerationConfig == nil || payload.GenerationConfig.Temperature != 0.4 {
			t.Errorf("generation config = %+v", payload.GenerationConfig)
		}

		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "streamed"}, {"text": " reply"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 2, "totalTokenCount": 12}
		}`))
	})

	completion, err := client.Complete(context.Background(), Request{
		Model:        "gemini-1.5-flash",
		Instructions: "be helpful",
		Turns: []domain.Turn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
		},
		Query:       "again",
		Temperature: 0.4,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Text != "streamed reply" {
		t.Errorf("Text = %q, want %q", completion.Text, "streamed reply")
	}
	if completion.Usage.InputTokens != 10 || completion.Usage.TotalTokens != 12 {
		t.Errorf("Usage = %+v", completion.Usage)
	}
}

func TestGeminiClientCompleteUsageFallback(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "three token reply"}]}}]}`))
	})

	completion, err := client.Complete(context.Background(), Request{Model: "gemini-1.5-flash", Query: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Usage.OutputTokens != 3 {
		t.Errorf("estimated OutputTokens = %d, want 3", completion.Usage.OutputTokens)
	}
}

func TestGeminiClientCompleteEmptyCandidates(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})

	_, err := client.Complete(context.Background(), Request{Model: "gemini-1.5-flash", Query: "hi"})
	var provErr *Error
	if !errors.As(err, &provErr) || provErr.Kind != ErrKindMalformed {
		t.Errorf("Complete() error = %v, want malformed provider error", err)
	}
}

func TestGeminiClientCompleteValidation(t *testing.T) {
	client := NewGeminiClient(GeminiClientConfig{APIKey: "k"})

	if _, err := client.Complete(context.Background(), Request{Query: "hi"}); err == nil {
		t.Error("Complete() without model returned nil error")
	}
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Error("Complete() without query returned nil error")
	}
}

func TestGeminiClientCompleteStream(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-flash:streamGenerateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt query param = %q", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"str\"}]}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"eam\"}]}}],\"usageMetadata\":{\"totalTokenCount\":9}}\n\n")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}]}\n\n")
	})

	stream, err := client.CompleteStream(context.Background(), Request{Model: "gemini-1.5-flash", Query: "hi"})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var final Chunk
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if chunk.Final {
			final = chunk
			break
		}
		text.WriteString(chunk.Text)
	}

	if text.String() != "stream" {
		t.Errorf("streamed text = %q, want %q", text.String(), "stream")
	}
	if final.Usage.TotalTokens != 9 {
		t.Errorf("final usage = %d, want 9", final.Usage.TotalTokens)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv() after final = %v, want io.EOF", err)
	}
}

func TestGeminiClientCompleteStreamCleanEOF(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"only\"}]}}]}\n\n")
	})

	stream, err := client.CompleteStream(context.Background(), Request{Model: "gemini-1.5-flash", Query: "hi"})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	defer stream.Close()

	if chunk, err := stream.Recv(); err != nil || chunk.Text != "only" {
		t.Fatalf("first Recv() = %q, %v", chunk.Text, err)
	}
	chunk, err := stream.Recv()
	if err != nil || !chunk.Final {
		t.Errorf("Recv() at EOF = %+v, %v, want final chunk", chunk, err)
	}
}

func TestGeminiClientCompleteStreamStatusError(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.CompleteStream(context.Background(), Request{Model: "gemini-1.5-flash", Query: "hi"})
	var provErr *Error
	if !errors.As(err, &provErr) || provErr.Kind != ErrKindRateLimited {
		t.Errorf("CompleteStream() error = %v, want rate limited provider error", err)
	}
}
