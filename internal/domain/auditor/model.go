package auditor

import (
	"context"

	"github.com/ehr/intake/internal/domain/identity"
)

// Classification labels a chunk as clinical content or not.
type Classification string

const (
	ClassificationValid   Classification = "VALID"
	ClassificationInvalid Classification = "INVALID"
)

// Path records which protocol path produced a chunk result.
type Path string

const (
	PathStructured Path = "structured"
	PathFallback   Path = "fallback"
	PathUnparsed   Path = "unparsed"
)

// ChunkResult is the audit outcome for one chunk.
type ChunkResult struct {
	ChunkID        int                      `json:"chunk_id"`
	Classification Classification           `json:"classification"`
	Reason         string                   `json:"reason"`
	Entities       identity.PatientEntities `json:"entities"`
	Metadata       map[string]string        `json:"metadata"`
	Path           Path                     `json:"audit_path"`
}

// Valid reports whether the chunk was classified as clinical content.
func (r ChunkResult) Valid() bool {
	return r.Classification == ClassificationValid
}

// Request is one generation call against the backing model.
type Request struct {
	// Prompt is the fixed task instruction.
	Prompt string
	// Text is the chunk under audit.
	Text string
	// Structured asks the backend to enforce the result schema.
	Structured bool
}

// Reply is the raw output of one generation call.
type Reply struct {
	// Segments holds every returned text part in order.
	Segments []string
	// Complete is true only when the backend reports a normal stop.
	Complete bool
	// FinishReason is the backend's own stop reason, kept for diagnostics.
	FinishReason string
}

// Model is a generative backend able to run the classify/extract task.
type Model interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
	Name() string
}
