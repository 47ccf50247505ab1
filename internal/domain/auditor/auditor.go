// Package auditor classifies document chunks and extracts patient entities
// from them with a generative model.
//
// Each chunk goes through two paths in strict order: a structured call with
// an enforced output schema, then a free-text call whose output is parsed
// defensively. Output that neither path can parse degrades to an INVALID
// result instead of an error, so every chunk yields a well-formed result.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/platform/chunker"
	"github.com/ehr/intake/internal/platform/faults"
)

// Auditor runs the classify/extract protocol for one chunk at a time. It is
// safe for concurrent use; invocations share no mutable state.
type Auditor struct {
	model   Model
	prompt  string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Option configures the auditor.
type Option func(*Auditor)

// WithPrompt replaces DefaultPrompt.
func WithPrompt(prompt string) Option {
	return func(a *Auditor) {
		if prompt != "" {
			a.prompt = prompt
		}
	}
}

// WithRateLimit throttles model calls to rps requests per second.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Auditor) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLogger sets the auditor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Auditor) {
		a.logger = logger
	}
}

// New creates an auditor backed by model.
func New(model Model, opts ...Option) *Auditor {
	a := &Auditor{
		model:  model,
		prompt: DefaultPrompt,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the agent that produced the results.
func (a *Auditor) Name() string {
	return a.model.Name()
}

// Audit classifies one chunk. Unparseable model output is reported as an
// INVALID result; only transport failures on the fallback path and context
// cancellation are returned as errors, both wrapping faults.ErrRemoteService.
func (a *Auditor) Audit(ctx context.Context, chunk chunker.Chunk) (ChunkResult, error) {
	log := a.logger.With().Int("chunk_id", chunk.ID).Int("total_chunks", chunk.TotalChunks).Logger()

	p, err := a.structured(ctx, chunk)
	if err == nil {
		return a.result(chunk, p, PathStructured), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ChunkResult{}, interrupted(chunk, ctxErr)
	}
	log.Debug().Err(err).Msg("structured path unavailable, using free-text fallback")

	p, err = a.fallback(ctx, chunk)
	if err == nil {
		return a.result(chunk, p, PathFallback), nil
	}
	if !errors.Is(err, ErrParse) {
		return ChunkResult{}, err
	}

	log.Warn().Err(err).Msg("auditor output could not be parsed")
	return a.unparsed(chunk, err), nil
}

func (a *Auditor) structured(ctx context.Context, chunk chunker.Chunk) (Payload, error) {
	reply, err := a.generate(ctx, chunk, true)
	if err != nil {
		return Payload{}, err
	}
	if !reply.Complete {
		return Payload{}, fmt.Errorf("structured output not completed (finish reason %q)", reply.FinishReason)
	}
	return ParsePayload(joinSegments(reply.Segments))
}

func (a *Auditor) fallback(ctx context.Context, chunk chunker.Chunk) (Payload, error) {
	reply, err := a.generate(ctx, chunk, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Payload{}, interrupted(chunk, ctxErr)
		}
		return Payload{}, fmt.Errorf("%w: audit chunk %d: %w", faults.ErrRemoteService, chunk.ID, err)
	}
	return ParsePayload(joinSegments(reply.Segments))
}

func (a *Auditor) generate(ctx context.Context, chunk chunker.Chunk, structured bool) (*Reply, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reply, err := a.model.Generate(ctx, Request{
		Prompt:     a.prompt,
		Text:       chunk.Text,
		Structured: structured,
	})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = &Reply{}
	}
	return reply, nil
}

// interrupted reports a cancelled or timed-out audit as a remote fault so
// the caller may retry the document.
func interrupted(chunk chunker.Chunk, err error) error {
	return fmt.Errorf("%w: audit chunk %d interrupted: %w", faults.ErrRemoteService, chunk.ID, err)
}

func (a *Auditor) result(chunk chunker.Chunk, p Payload, path Path) ChunkResult {
	return ChunkResult{
		ChunkID:        chunk.ID,
		Classification: p.Classification,
		Reason:         p.Reason,
		Entities:       p.Entities,
		Metadata:       maps.Clone(chunk.Metadata),
		Path:           path,
	}
}

func (a *Auditor) unparsed(chunk chunker.Chunk, err error) ChunkResult {
	return ChunkResult{
		ChunkID:        chunk.ID,
		Classification: ClassificationInvalid,
		Reason:         err.Error(),
		Entities:       identity.EmptyEntities(),
		Metadata:       maps.Clone(chunk.Metadata),
		Path:           PathUnparsed,
	}
}
