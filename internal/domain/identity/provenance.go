package identity

import (
	"strings"
	"time"

	"github.com/ehr/intake/internal/platform/fhir"
)

const (
	// PipelineAgent is the display name of the agent that assembles Patients.
	PipelineAgent = "EHR Intake Pipeline"

	// UnknownSourceName is recorded when a document arrives without an
	// original file name.
	UnknownSourceName = "Unknown File"
)

// Source describes the origin of a processed document.
type Source struct {
	// Sender is the party the pipeline acted on behalf of.
	Sender string
	// OriginalName is the uploaded file name.
	OriginalName string
}

// BuildProvenance records that the pipeline assembled the Patient with the
// given id from src at recorded.
func (b *Builder) BuildProvenance(patientID string, src Source, recorded time.Time) *fhir.Provenance {
	name := strings.TrimSpace(src.OriginalName)
	if name == "" {
		name = UnknownSourceName
	}

	agent := fhir.ProvenanceAgent{
		Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
			System:  fhir.ParticipantTypeSystem,
			Code:    "assembler",
			Display: "Assembler",
		}}},
		Who: fhir.Reference{Display: PipelineAgent},
	}
	if sender := strings.TrimSpace(src.Sender); sender != "" {
		agent.OnBehalfOf = &fhir.Reference{Display: sender}
	}

	return &fhir.Provenance{
		ResourceType: "Provenance",
		ID:           b.newID(),
		Target:       []fhir.Reference{{Reference: "Patient/" + patientID}},
		Recorded:     fhir.FormatInstant(recorded),
		Activity: &fhir.CodeableConcept{Coding: []fhir.Coding{{
			System:  fhir.DataOperationSystem,
			Code:    "CREATE",
			Display: "create",
		}}},
		Agent:  []fhir.ProvenanceAgent{agent},
		Entity: []fhir.ProvenanceEntity{{Role: "source", What: fhir.Reference{Display: name}}},
	}
}
