package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

var ErrProviderUnavailable = errors.New("provider is not configured")

// Request is a provider-agnostic completion request. Turns carry the prior
// conversation; Query is the current user message.
type Request struct {
	Model           string
	Instructions    string
	Turns           []domain.Turn
	Query           string
	Temperature     float64
	MaxOutputTokens int
}

// Completion is a terminal single-shot result.
type Completion struct {
	Text    string
	ModelID string
	Usage   domain.TokenUsage
}

// Chunk is one streamed fragment. Final marks the completion boundary; a
// Final chunk may also carry usage totals.
type Chunk struct {
	Text  string
	Final bool
	Usage domain.TokenUsage
}

// ChunkStream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF after the final chunk has been delivered, or a provider error on a
// mid-stream failure. Close releases the underlying connection.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the completion capability consumed by the dispatcher.
type Client interface {
	Available() bool
	Complete(ctx context.Context, request Request) (Completion, error)
	CompleteStream(ctx context.Context, request Request) (ChunkStream, error)
}

type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindMalformed   ErrorKind = "malformed_response"
	ErrKindUpstream    ErrorKind = "upstream"
)

// Error classifies a failed provider call for the fallback walk.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrKindAuth
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case status >= 500:
		return ErrKindUpstream
	default:
		return ErrKindUpstream
	}
}

// retryable reports whether an in-client retry against the same model can
// help. Auth and malformed responses will not improve on retry.
func retryable(err error) bool {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		switch providerErr.Kind {
		case ErrKindTimeout, ErrKindRateLimited, ErrKindUpstream:
			return true
		default:
			return false
		}
	}
	return false
}
