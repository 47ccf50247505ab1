package identity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Unknown is the sentinel for a string field the auditor could not extract.
// It is distinct from the empty string, which never survives normalization.
const Unknown = "Unknown"

// Gender is the administrative gender of the patient.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// Entity field names as they appear on the wire.
const (
	FieldPatientName       = "PatientName"
	FieldPatientIdentifier = "PatientIdentifier"
	FieldGender            = "Gender"
	FieldVitals            = "Vitals"
	FieldMedications       = "Medications"
)

// Fields lists the entity keys in their canonical order.
var Fields = []string{
	FieldPatientName,
	FieldPatientIdentifier,
	FieldGender,
	FieldVitals,
	FieldMedications,
}

// PatientEntities is the fixed-shape entity set extracted from one chunk.
// After normalization every field holds either a value or its sentinel.
type PatientEntities struct {
	PatientName       string `json:"PatientName"`
	PatientIdentifier string `json:"PatientIdentifier"`
	Gender            Gender `json:"Gender"`
	Vitals            string `json:"Vitals"`
	Medications       string `json:"Medications"`
}

// EmptyEntities returns an entity set with every field at its sentinel.
func EmptyEntities() PatientEntities {
	return PatientEntities{
		PatientName:       Unknown,
		PatientIdentifier: Unknown,
		Gender:            GenderUnknown,
		Vitals:            Unknown,
		Medications:       Unknown,
	}
}

// CanonicalPatientRecord is the document-scoped result of aggregating every
// accepted chunk. It has the same shape as PatientEntities.
type CanonicalPatientRecord struct {
	PatientEntities
}

// HasIdentity reports whether the record carries a usable patient identity.
func (r CanonicalPatientRecord) HasIdentity() bool {
	return IsKnown(r.PatientName) || IsKnown(r.PatientIdentifier)
}

// IsKnown reports whether v is an extracted value rather than the sentinel.
func IsKnown(v string) bool {
	return v != "" && v != Unknown
}

// NormalizeEntities converts an untyped entity payload into the fixed-shape
// record. Missing keys become sentinels, non-string values are rendered as
// text and Gender is constrained to its enumeration.
func NormalizeEntities(raw map[string]any) PatientEntities {
	e := EmptyEntities()
	if raw == nil {
		return e
	}

	e.PatientName = NormalizeValue(raw[FieldPatientName])
	e.PatientIdentifier = NormalizeValue(raw[FieldPatientIdentifier])
	e.Gender = NormalizeGender(NormalizeValue(raw[FieldGender]))
	e.Vitals = NormalizeValue(raw[FieldVitals])
	e.Medications = NormalizeValue(raw[FieldMedications])
	return e
}

// Normalize re-applies the sentinel and enumeration rules to a typed record.
func (e PatientEntities) Normalize() PatientEntities {
	return PatientEntities{
		PatientName:       NormalizeValue(e.PatientName),
		PatientIdentifier: NormalizeValue(e.PatientIdentifier),
		Gender:            NormalizeGender(string(e.Gender)),
		Vitals:            NormalizeValue(e.Vitals),
		Medications:       NormalizeValue(e.Medications),
	}
}

// NormalizeValue renders one untyped entity value as text, collapsing empty
// and placeholder values to Unknown.
func NormalizeValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return Unknown
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	case json.Number:
		s = val.String()
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if p := NormalizeValue(item); IsKnown(p) {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return Unknown
		}
		s = string(b)
	default:
		s = fmt.Sprintf("%v", val)
	}

	s = strings.TrimSpace(s)
	if isPlaceholder(s) {
		return Unknown
	}
	return s
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(s) {
	case "", "unknown", "null", "none", "n/a", "na", "not available", "not specified":
		return true
	}
	return false
}

// NormalizeGender lower-cases and validates a gender value; anything outside
// the enumeration collapses to unknown.
func NormalizeGender(v string) Gender {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	case "other":
		return GenderOther
	default:
		return GenderUnknown
	}
}
