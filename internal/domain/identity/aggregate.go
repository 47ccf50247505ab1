package identity

import "strings"

// AggregateSeparator joins the distinct values of the accumulating fields.
const AggregateSeparator = " | "

// Aggregator merges per-chunk entity sets in document order.
//
// Identity fields (name, identifier, gender) keep the first known value and
// are never overridden by later chunks. Vitals and medications collect every
// distinct known value in order of first appearance.
type Aggregator struct {
	name       string
	identifier string
	gender     Gender

	vitals      valueSet
	medications valueSet
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		name:       Unknown,
		identifier: Unknown,
		gender:     GenderUnknown,
	}
}

// Add merges one chunk's entities. Chunks must be added in ascending chunk order.
func (a *Aggregator) Add(e PatientEntities) {
	if !IsKnown(a.name) && IsKnown(e.PatientName) {
		a.name = e.PatientName
	}
	if !IsKnown(a.identifier) && IsKnown(e.PatientIdentifier) {
		a.identifier = e.PatientIdentifier
	}
	if a.gender == GenderUnknown && e.Gender != "" && e.Gender != GenderUnknown {
		a.gender = e.Gender
	}
	a.vitals.add(e.Vitals)
	a.medications.add(e.Medications)
}

// Record returns the canonical record for everything added so far.
func (a *Aggregator) Record() CanonicalPatientRecord {
	return CanonicalPatientRecord{
		PatientEntities: PatientEntities{
			PatientName:       a.name,
			PatientIdentifier: a.identifier,
			Gender:            a.gender,
			Vitals:            a.vitals.join(),
			Medications:       a.medications.join(),
		},
	}
}

// Aggregate merges the entity sets of accepted chunks, given in document order.
func Aggregate(entities []PatientEntities) CanonicalPatientRecord {
	a := NewAggregator()
	for _, e := range entities {
		a.Add(e)
	}
	return a.Record()
}

// valueSet keeps distinct values in first-appearance order.
type valueSet struct {
	seen   map[string]struct{}
	values []string
}

func (s *valueSet) add(v string) {
	if !IsKnown(v) {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[v]; dup {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}

func (s *valueSet) join() string {
	if len(s.values) == 0 {
		return Unknown
	}
	return strings.Join(s.values, AggregateSeparator)
}
