package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/provider"
)

// ErrStreamInterrupted marks a provider failure after chunks were already
// delivered. Partial output cannot be un-sent, so no further candidate is
// tried; the caller must surface the interruption.
var ErrStreamInterrupted = errors.New("stream interrupted after first chunk")

// Attempt records the outcome of one candidate in the walk.
type Attempt struct {
	Model domain.ModelRef
	Err   error
}

// PlanExhaustedError aggregates one cause per candidate after every entry of
// the plan has failed.
type PlanExhaustedError struct {
	Attempts []Attempt
}

func (e *PlanExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Model, attempt.Err))
	}
	return fmt.Sprintf("all %d candidates failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Result is a successful single-shot outcome, tagged with the candidate that
// served it and the trail of failed attempts before it.
type Result struct {
	Model    domain.ModelRef
	Text     string
	Usage    domain.TokenUsage
	Attempts []Attempt
}

// Fallback reports whether a non-primary candidate served the request.
func (r *Result) Fallback() bool {
	return len(r.Attempts) > 0
}

type Config struct {
	Registry *provider.Registry
	// AttemptTimeout bounds each candidate attempt independently; expiry is
	// treated like any other provider error and advances the plan.
	AttemptTimeout time.Duration
	Logger         *log.Logger
}

// Dispatcher walks a dispatch plan strictly in order, advancing on failure
// and stopping at the first success. Candidates are never raced.
type Dispatcher struct {
	registry       *provider.Registry
	attemptTimeout time.Duration
	logger         *log.Logger
}

func New(config Config) *Dispatcher {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:       config.Registry,
		attemptTimeout: config.AttemptTimeout,
		logger:         config.Logger,
	}
}

// Dispatch tries each candidate until one produces a completion. Intermediate
// failures are collected, not surfaced; only plan exhaustion is an error.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	plan domain.DispatchPlan,
	request provider.Request,
) (*Result, error) {
	if len(plan) == 0 {
		return nil, errors.New("empty dispatch plan")
	}

	attempts := make([]Attempt, 0, len(plan))
	for _, candidate := range plan {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		completion, err := d.tryCandidate(ctx, candidate, request)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			d.logf("candidate failed model=%s err=%v", candidate, err)
			attempts = append(attempts, Attempt{Model: candidate, Err: err})
			continue
		}

		return &Result{
			Model:    candidate,
			Text:     completion.Text,
			Usage:    completion.Usage,
			Attempts: attempts,
		}, nil
	}

	return nil, &PlanExhaustedError{Attempts: attempts}
}

func (d *Dispatcher) tryCandidate(
	ctx context.Context,
	candidate domain.ModelRef,
	request provider.Request,
) (provider.Completion, error) {
	client, ok := d.registry.Lookup(candidate.Provider)
	if !ok {
		return provider.Completion{}, fmt.Errorf("unknown provider %q", candidate.Provider)
	}
	if !client.Available() {
		return provider.Completion{}, provider.ErrProviderUnavailable
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	request.Model = candidate.Model
	return client.Complete(attemptCtx, request)
}

// Stream is the committed token stream of the winning candidate. The first
// chunk is pulled by the dispatcher before the stream is handed out, so
// Recv never advances the plan: any failure here is terminal.
type Stream struct {
	Model    domain.ModelRef
	Attempts []Attempt

	inner  provider.ChunkStream
	cancel context.CancelFunc
	first  *provider.Chunk
	done   bool
}

// Recv yields the next chunk. After the final chunk it returns io.EOF. A
// mid-stream provider failure is wrapped in ErrStreamInterrupted.
func (s *Stream) Recv() (provider.Chunk, error) {
	if s.first != nil {
		chunk := *s.first
		s.first = nil
		s.done = chunk.Final
		return chunk, nil
	}
	if s.done {
		return provider.Chunk{}, io.EOF
	}

	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}
	s.done = chunk.Final
	return chunk, nil
}

func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.inner.Close()
}

// Fallback reports whether a non-primary candidate serves the stream.
func (s *Stream) Fallback() bool {
	return len(s.Attempts) > 0
}

// DispatchStream walks the plan until a candidate delivers its first chunk.
// Connection failures and first-chunk failures advance the plan; once a chunk
// has been received the stream is committed and later failures are terminal.
func (d *Dispatcher) DispatchStream(
	ctx context.Context,
	plan domain.DispatchPlan,
	request provider.Request,
) (*Stream, error) {
	if len(plan) == 0 {
		return nil, errors.New("empty dispatch plan")
	}

	attempts := make([]Attempt, 0, len(plan))
	for _, candidate := range plan {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		stream, err := d.tryStreamCandidate(ctx, candidate, request, attempts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			d.logf("stream candidate failed model=%s err=%v", candidate, err)
			attempts = append(attempts, Attempt{Model: candidate, Err: err})
			continue
		}
		return stream, nil
	}

	return nil, &PlanExhaustedError{Attempts: attempts}
}

func (d *Dispatcher) tryStreamCandidate(
	ctx context.Context,
	candidate domain.ModelRef,
	request provider.Request,
	attempts []Attempt,
) (*Stream, error) {
	client, ok := d.registry.Lookup(candidate.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", candidate.Provider)
	}
	if !client.Available() {
		return nil, provider.ErrProviderUnavailable
	}
	if !candidate.Streams {
		return nil, fmt.Errorf("model %s does not support streaming", candidate)
	}

	// The attempt timeout only covers time to first byte. The stream itself
	// lives on the caller context so long responses are not cut off.
	streamCtx, cancel := context.WithCancel(ctx)
	firstByte := time.AfterFunc(d.attemptTimeout, cancel)

	request.Model = candidate.Model
	inner, err := client.CompleteStream(streamCtx, request)
	if err != nil {
		firstByte.Stop()
		cancel()
		if streamCtx.Err() != nil && ctx.Err() == nil {
			return nil, &provider.Error{
				Provider: candidate.Provider,
				Kind:     provider.ErrKindTimeout,
				Message:  "no response before attempt timeout",
			}
		}
		return nil, err
	}

	first, err := inner.Recv()
	firstByte.Stop()
	if err != nil {
		_ = inner.Close()
		cancel()
		if streamCtx.Err() != nil && ctx.Err() == nil {
			return nil, &provider.Error{
				Provider: candidate.Provider,
				Kind:     provider.ErrKindTimeout,
				Message:  "no first chunk before attempt timeout",
			}
		}
		return nil, err
	}

	return &Stream{
		Model:    candidate,
		Attempts: attempts,
		inner:    inner,
		cancel:   cancel,
		first:    &first,
	}, nil
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Printf(format, args...)
}
