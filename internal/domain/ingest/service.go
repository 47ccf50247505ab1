// Package ingest runs extracted document text through the intake pipeline:
// chunking, per-chunk audit, the guardrail decision, entity aggregation,
// Patient construction and the write to the clinical store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/intake/internal/domain/auditor"
	"github.com/ehr/intake/internal/domain/guardrail"
	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/platform/chunker"
	"github.com/ehr/intake/internal/platform/faults"
	"github.com/ehr/intake/internal/platform/healthstore"
)

// DefaultMaxConcurrency bounds in-flight auditor calls per document.
const DefaultMaxConcurrency = 4

// ChunkAuditor audits a single chunk.
type ChunkAuditor interface {
	Audit(ctx context.Context, chunk chunker.Chunk) (auditor.ChunkResult, error)
	Name() string
}

// ResourceWriter persists a built resource in the clinical store.
type ResourceWriter interface {
	Create(ctx context.Context, resource healthstore.Resource) (*healthstore.Created, error)
}

// validator is implemented by writers that can check their configuration
// without I/O.
type validator interface {
	Validate() error
}

// Metrics receives pipeline counters.
type Metrics interface {
	RecordOutcome(status string)
	RecordAudit(path, classification string)
	ObserveDocument(d time.Duration, chunks int)
}

type nopMetrics struct{}

func (nopMetrics) RecordOutcome(string)               {}
func (nopMetrics) RecordAudit(string, string)         {}
func (nopMetrics) ObserveDocument(time.Duration, int) {}

// Service orchestrates one document at a time. It holds no per-document
// state and is safe for concurrent use.
type Service struct {
	splitter       *chunker.Splitter
	auditor        ChunkAuditor
	guardrail      *guardrail.Engine
	builder        *identity.Builder
	writer         ResourceWriter
	repo           OutcomeRepository
	metrics        Metrics
	logger         zerolog.Logger
	maxConcurrency int
	now            func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithOutcomeRepository records every outcome in repo.
func WithOutcomeRepository(repo OutcomeRepository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMaxConcurrency bounds concurrent auditor calls. Values below one are
// ignored.
func WithMaxConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// NewService wires the pipeline stages together.
func NewService(splitter *chunker.Splitter, a ChunkAuditor, g *guardrail.Engine, b *identity.Builder, w ResourceWriter, opts ...Option) *Service {
	s := &Service{
		splitter:       splitter,
		auditor:        a,
		guardrail:      g,
		builder:        b,
		writer:         w,
		metrics:        nopMetrics{},
		logger:         zerolog.Nop(),
		maxConcurrency: DefaultMaxConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks that the builder and, unless dryRun, the writer are
// configured. It performs no I/O.
func (s *Service) Validate(dryRun bool) error {
	if err := s.builder.Validate(); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	if s.writer == nil {
		return fmt.Errorf("%w: no clinical store configured", faults.ErrConfiguration)
	}
	if v, ok := s.writer.(validator); ok {
		return v.Validate()
	}
	return nil
}

// Process runs doc through the pipeline. REJECTED and SKIPPED documents are
// returned as outcomes with a nil error; a document without text is
// rejected by the guardrail like any other. Configuration and remote
// failures are returned as errors wrapping the faults sentinels.
func (s *Service) Process(ctx context.Context, doc Document) (*Outcome, error) {
	if err := s.Validate(doc.DryRun); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	start := s.now()
	log := s.logger.With().Str("document_id", doc.ID).Bool("dry_run", doc.DryRun).Logger()

	chunks := s.splitter.Split(doc.Text, doc.Metadata)
	log.Debug().Int("chunk_size", s.splitter.ChunkSize()).Int("chunks", len(chunks)).Msg("document split")
	results, err := s.auditAll(ctx, chunks, log)
	if err != nil {
		log.Error().Err(err).Int("chunks", len(chunks)).Msg("document audit failed")
		return nil, err
	}

	out := &Outcome{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		SourceAgent:   sourceAgent(doc.Metadata),
		AuditorModel:  s.auditor.Name(),
		ChunksAudited: len(results),
		Gender:        identity.GenderUnknown,
		DryRun:        doc.DryRun,
	}

	if err := s.decide(ctx, doc, results, out, log); err != nil {
		log.Error().Err(err).Msg("document processing failed")
		return nil, err
	}

	elapsed := s.now().Sub(start)
	out.DurationMS = elapsed.Milliseconds()
	out.CreatedAt = s.now().UTC()

	s.record(ctx, out, log)
	s.metrics.RecordOutcome(string(out.Status))
	s.metrics.ObserveDocument(elapsed, len(chunks))

	log.Info().
		Str("status", string(out.Status)).
		Int("chunks_audited", out.ChunksAudited).
		Int("ignored_legal_chunks", out.IgnoredLegalChunks).
		Bool("used_placeholder_identifier", out.UsedPlaceholderIdentifier).
		Str("resource_id", out.ResourceID).
		Int64("duration_ms", out.DurationMS).
		Msg("document processed")
	return out, nil
}

// auditAll fans chunks out to the auditor and waits for every result.
// Results are stored by chunk position, so their order does not depend on
// completion order.
func (s *Service) auditAll(ctx context.Context, chunks []chunker.Chunk, log zerolog.Logger) ([]auditor.ChunkResult, error) {
	results := make([]auditor.ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: audit chunk %d interrupted: %w", faults.ErrRemoteService, chunk.ID, err)
			}
			res, err := s.auditor.Audit(gctx, chunk)
			if err != nil {
				return fmt.Errorf("audit chunk %d: %w", chunk.ID, err)
			}
			results[i] = res
			s.metrics.RecordAudit(string(res.Path), string(res.Classification))
			log.Debug().
				Int("chunk_id", res.ChunkID).
				Str("audit_path", string(res.Path)).
				Str("classification", string(res.Classification)).
				Msg("chunk audited")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// decide applies the guardrail and everything after it, filling out.
func (s *Service) decide(ctx context.Context, doc Document, results []auditor.ChunkResult, out *Outcome, log zerolog.Logger) error {
	decision := s.guardrail.Decide(results)
	out.IgnoredLegalChunks = decision.IgnoredLegal
	if !decision.Accepted {
		out.Status = StatusRejected
		out.Reason = decision.Reason
		return nil
	}

	entities := make([]identity.PatientEntities, 0, len(decision.Valid))
	for _, r := range decision.Valid {
		entities = append(entities, r.Entities)
	}
	rec := identity.Aggregate(entities)
	out.Gender = rec.Gender

	if !rec.HasIdentity() {
		out.Status = StatusSkipped
		out.Reason = SkipNoIdentityReason
		return nil
	}

	patient, placeholder, err := s.builder.Build(rec)
	if err != nil {
		return err
	}
	out.UsedPlaceholderIdentifier = placeholder

	if doc.DryRun {
		out.Status = StatusSuccess
		out.ItemsProcessed = 1
		out.ResourceID = patient.ID
		out.Resource = patient
		out.Provenance = s.builder.BuildProvenance(patient.ID, documentSource(doc.Metadata), s.now())
		out.ProvenanceID = out.Provenance.ID
		return nil
	}

	created, err := s.writer.Create(ctx, patient)
	if err != nil {
		return err
	}
	out.Status = StatusSuccess
	out.ItemsProcessed = 1
	out.ResourceID = storedID(created, patient.ID)

	// A failed Provenance write is logged; the stored Patient still counts.
	prov := s.builder.BuildProvenance(out.ResourceID, documentSource(doc.Metadata), s.now())
	pc, err := s.writer.Create(ctx, prov)
	if err != nil {
		log.Warn().Err(err).Str("resource_id", out.ResourceID).Msg("failed to write provenance")
		return nil
	}
	out.ProvenanceID = storedID(pc, prov.ID)
	return nil
}

// storedID prefers the id assigned by the store over the one built locally.
func storedID(created *healthstore.Created, built string) string {
	if created != nil && created.ID != "" {
		return created.ID
	}
	return built
}

// record stores out in the history. A failed write is logged and does not
// change the outcome.
func (s *Service) record(ctx context.Context, out *Outcome, log zerolog.Logger) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, out); err != nil {
		log.Warn().Err(err).Msg("failed to record outcome history")
	}
}

// ListOutcomes returns a page of outcome history.
func (s *Service) ListOutcomes(ctx context.Context, filter OutcomeFilter, limit, offset int) ([]*Outcome, int, error) {
	if s.repo == nil {
		return []*Outcome{}, 0, nil
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// GetOutcome returns one recorded outcome.
func (s *Service) GetOutcome(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	if s.repo == nil {
		return nil, ErrOutcomeNotFound
	}
	return s.repo.GetByID(ctx, id)
}
