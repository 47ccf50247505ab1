package fhir

// Profile and identifier constants used when emitting Patient resources.
const (
	USCorePatientProfile = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient"

	IdentifierUseUsual = "usual"
	IdentifierUseTemp  = "temp"

	NarrativeStatusGenerated = "generated"
)

// Narrative is the human-readable text element of a resource.
type Narrative struct {
	Status string `json:"status"`
	Div    string `json:"div"`
}

// Patient is the subset of the FHIR R4 Patient resource produced by the
// intake pipeline. The zero value is not a valid resource; use the identity
// builder to construct one.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Text         *Narrative   `json:"text,omitempty"`
	Extension    []Extension  `json:"extension,omitempty"`
	Identifier   []Identifier `json:"identifier"`
	Gender       string       `json:"gender,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
}

// GetResourceType satisfies the store writer's resource contract.
func (p *Patient) GetResourceType() string {
	return p.ResourceType
}

// GetID returns the logical id assigned at build time.
func (p *Patient) GetID() string {
	return p.ID
}
