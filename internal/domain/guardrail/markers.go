package guardrail

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/intake/internal/platform/faults"
)

//go:embed markers.yaml
var defaultMarkers []byte

// Markers holds the phrase lists that separate incidental legal boilerplate
// from hard-invalid content. Matching is case-insensitive substring search.
type Markers struct {
	Legal       []string `yaml:"legal"`
	HardInvalid []string `yaml:"hard_invalid"`
}

// DefaultMarkers returns the marker lists shipped with the service.
func DefaultMarkers() Markers {
	m, err := ParseMarkers(defaultMarkers)
	if err != nil {
		panic(fmt.Sprintf("guardrail: embedded markers are invalid: %v", err))
	}
	return m
}

// LoadMarkers reads marker lists from a YAML file. An empty path selects the
// shipped defaults.
func LoadMarkers(path string) (Markers, error) {
	if path == "" {
		return DefaultMarkers(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Markers{}, fmt.Errorf("%w: read guardrail markers: %w", faults.ErrConfiguration, err)
	}
	return ParseMarkers(b)
}

// ParseMarkers decodes and validates YAML marker lists.
func ParseMarkers(b []byte) (Markers, error) {
	var m Markers
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Markers{}, fmt.Errorf("%w: decode guardrail markers: %w", faults.ErrConfiguration, err)
	}

	m.Legal = clean(m.Legal)
	m.HardInvalid = clean(m.HardInvalid)

	if len(m.Legal) == 0 {
		return Markers{}, fmt.Errorf("%w: guardrail markers: legal list is empty", faults.ErrConfiguration)
	}
	if len(m.HardInvalid) == 0 {
		return Markers{}, fmt.Errorf("%w: guardrail markers: hard_invalid list is empty", faults.ErrConfiguration)
	}
	return m, nil
}

func clean(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsLegalAppendix reports whether reason describes incidental legal text:
// at least one legal marker and no hard-invalid marker.
func (m Markers) IsLegalAppendix(reason string) bool {
	r := strings.ToLower(reason)
	return containsAny(r, m.Legal) && !containsAny(r, m.HardInvalid)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
