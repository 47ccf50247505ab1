package fhir

import "time"

// Code systems used on Provenance resources.
const (
	ParticipantTypeSystem = "http://terminology.hl7.org/CodeSystem/provenance-participant-type"
	DataOperationSystem   = "http://terminology.hl7.org/CodeSystem/v3-DataOperation"
)

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// ProvenanceAgent is the actor that assembled the target and the party it
// acted for.
type ProvenanceAgent struct {
	Type       *CodeableConcept `json:"type,omitempty"`
	Who        Reference        `json:"who"`
	OnBehalfOf *Reference       `json:"onBehalfOf,omitempty"`
}

// ProvenanceEntity names a document the target was derived from.
type ProvenanceEntity struct {
	Role string    `json:"role"`
	What Reference `json:"what"`
}

// Provenance is the subset of the FHIR R4 Provenance resource recorded for
// every Patient the pipeline creates.
type Provenance struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id"`
	Target       []Reference        `json:"target"`
	Recorded     string             `json:"recorded"`
	Activity     *CodeableConcept   `json:"activity,omitempty"`
	Agent        []ProvenanceAgent  `json:"agent"`
	Entity       []ProvenanceEntity `json:"entity,omitempty"`
}

func (p *Provenance) GetResourceType() string { return p.ResourceType }

func (p *Provenance) GetID() string { return p.ID }

// FormatInstant renders t as a FHIR instant in UTC.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
