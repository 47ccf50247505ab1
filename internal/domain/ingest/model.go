package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/platform/fhir"
)

// Status is the terminal state of one processed document.
type Status string

const (
	// StatusRejected means the guardrail refused the document.
	StatusRejected Status = "REJECTED"
	// StatusSkipped means the document carried no usable patient identity.
	StatusSkipped Status = "SKIPPED"
	// StatusSuccess means a Patient resource was built and written.
	StatusSuccess Status = "SUCCESS"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRejected, StatusSkipped, StatusSuccess:
		return true
	}
	return false
}

// Metadata keys read from a document's metadata.
const (
	MetaSender       = "sender"
	MetaOriginalName = "original_name"
)

// DefaultSourceAgent is reported when a document names no sender.
const DefaultSourceAgent = "Web Upload"

// SkipNoIdentityReason is the reason attached to SKIPPED outcomes.
const SkipNoIdentityReason = "no usable patient identity: name and identifier are both unknown"

// Document is already-extracted text submitted for processing.
type Document struct {
	ID       string            `json:"document_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	// DryRun builds the resource without writing it to the store.
	DryRun bool `json:"dry_run"`
}

// Outcome is the result of processing one document. It carries no name or
// identifier values.
type Outcome struct {
	ID                        uuid.UUID       `json:"id"`
	DocumentID                string          `json:"document_id"`
	Status                    Status          `json:"status"`
	Reason                    string          `json:"reason,omitempty"`
	ItemsProcessed            int             `json:"items_processed"`
	SourceAgent               string          `json:"source_agent"`
	AuditorModel              string          `json:"auditor_model,omitempty"`
	ChunksAudited             int             `json:"chunks_audited"`
	IgnoredLegalChunks        int             `json:"ignored_legal_chunks"`
	UsedPlaceholderIdentifier bool            `json:"used_placeholder_identifier"`
	Gender                    identity.Gender `json:"gender"`
	ResourceID                string          `json:"resource_id,omitempty"`
	ProvenanceID              string          `json:"provenance_id,omitempty"`
	DryRun                    bool            `json:"dry_run,omitempty"`
	DurationMS                int64           `json:"duration_ms"`
	CreatedAt                 time.Time       `json:"created_at"`

	// Resource and Provenance are the built resources, returned on dry runs
	// only and never persisted.
	Resource   *fhir.Patient    `json:"resource,omitempty"`
	Provenance *fhir.Provenance `json:"provenance,omitempty"`
}

// OutcomeFilter narrows outcome history listings.
type OutcomeFilter struct {
	Status     Status
	DocumentID string
}

// Matches reports whether o passes the filter.
func (f OutcomeFilter) Matches(o *Outcome) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.DocumentID != "" && o.DocumentID != f.DocumentID {
		return false
	}
	return true
}

func documentSource(metadata map[string]string) identity.Source {
	return identity.Source{Sender: sourceAgent(metadata), OriginalName: metadata[MetaOriginalName]}
}

func sourceAgent(metadata map[string]string) string {
	if s := metadata[MetaSender]; s != "" {
		return s
	}
	return DefaultSourceAgent
}
