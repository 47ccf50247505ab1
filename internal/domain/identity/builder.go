package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/intake/internal/platform/faults"
	"github.com/ehr/intake/internal/platform/fhir"
)

// RawEntitiesExtensionURL identifies the extension carrying the verbatim
// canonical entity set on every emitted Patient.
const RawEntitiesExtensionURL = "http://ehr.example.org/fhir/StructureDefinition/extracted-clinical-entities"

// Builder maps a canonical record onto a FHIR Patient. It performs no I/O.
type Builder struct {
	// IdentifierSystem is the identifier namespace written on every
	// identifier, extracted or generated.
	IdentifierSystem string

	// NewID generates resource ids and placeholder identifier values.
	// Defaults to random UUIDs.
	NewID func() string
}

// NewBuilder creates a Builder for the given identifier system.
func NewBuilder(identifierSystem string) *Builder {
	return &Builder{IdentifierSystem: identifierSystem}
}

// Validate reports a configuration error when the builder cannot run.
func (b *Builder) Validate() error {
	if b == nil || strings.TrimSpace(b.IdentifierSystem) == "" {
		return fmt.Errorf("%w: IDENTIFIER_SYSTEM is required", faults.ErrConfiguration)
	}
	return nil
}

// Build produces a Patient for rec. The boolean result reports whether a
// generated placeholder identifier was substituted for a missing one.
func (b *Builder) Build(rec CanonicalPatientRecord) (*fhir.Patient, bool, error) {
	if err := b.Validate(); err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(rec.PatientEntities)
	if err != nil {
		return nil, false, fmt.Errorf("encode canonical entities: %w", err)
	}

	ident, placeholder := b.identifier(rec.PatientIdentifier)

	gender := rec.Gender
	if gender == "" {
		gender = GenderUnknown
	}

	p := &fhir.Patient{
		ResourceType: "Patient",
		ID:           b.newID(),
		Meta:         &fhir.Meta{Profile: []string{fhir.USCorePatientProfile}},
		Identifier:   []fhir.Identifier{ident},
		Gender:       string(gender),
		Name:         []fhir.HumanName{SplitName(rec.PatientName)},
		Extension: []fhir.Extension{
			{URL: RawEntitiesExtensionURL, ValueString: string(raw)},
		},
	}
	p.Text = narrative(rec, ident, placeholder)

	return p, placeholder, nil
}

func (b *Builder) identifier(extracted string) (fhir.Identifier, bool) {
	if IsKnown(extracted) {
		return fhir.Identifier{
			Use:    fhir.IdentifierUseUsual,
			System: b.IdentifierSystem,
			Value:  extracted,
		}, false
	}
	return fhir.Identifier{
		Use:    fhir.IdentifierUseTemp,
		System: b.IdentifierSystem,
		Value:  b.newID(),
	}, true
}

func (b *Builder) newID() string {
	if b.NewID != nil {
		if id := b.NewID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// SplitName decomposes a free-text name: the last token is the family name
// and the preceding tokens are given names. A single token is used as both.
func SplitName(name string) fhir.HumanName {
	tokens := strings.Fields(name)
	if !IsKnown(name) || len(tokens) == 0 {
		return fhir.HumanName{Use: "official", Text: Unknown}
	}

	hn := fhir.HumanName{
		Use:    "official",
		Text:   strings.Join(tokens, " "),
		Family: tokens[len(tokens)-1],
	}
	if len(tokens) == 1 {
		hn.Given = []string{tokens[0]}
	} else {
		hn.Given = tokens[:len(tokens)-1]
	}
	return hn
}

func narrative(rec CanonicalPatientRecord, ident fhir.Identifier, placeholder bool) *fhir.Narrative {
	idLabel := ident.Value
	if placeholder {
		idLabel += " (generated placeholder)"
	}
	return fhir.GenerateNarrative(
		"Machine-derived patient record extracted from unstructured clinical documents",
		[]fhir.NarrativeRow{
			{Label: "Name", Value: rec.PatientName},
			{Label: "Identifier", Value: idLabel},
			{Label: "Gender", Value: string(rec.Gender)},
			{Label: "Vitals", Value: rec.Vitals},
			{Label: "Medications", Value: rec.Medications},
		},
	)
}
