package auditor

import (
	"fmt"
	"os"
	"strings"

	"github.com/ehr/intake/internal/platform/faults"
)

// DefaultPrompt is the classify/extract task instruction sent with every chunk.
const DefaultPrompt = `You are a clinical document auditor. You receive one chunk of text extracted
from a document submitted to a patient record intake service.

1. Classify the chunk:
   - VALID if it contains genuine clinical or patient-administrative content
     (referrals, discharge summaries, observations, prescriptions, lab results).
   - INVALID if it does not. State precisely why in "reason": say whether the
     text is legal or statutory boilerplate (cite the act or clause), a
     disclaimer, fiction, source code, or otherwise unrelated material.
2. Extract patient entities. Use the literal string "Unknown" for anything
   not present in the chunk. Never guess.
   - PatientName: full name as written.
   - PatientIdentifier: MRN, NHS number or other patient identifier.
   - Gender: one of male, female, other, unknown.
   - Vitals: vital signs as written, e.g. "BP 120/80, HR 72".
   - Medications: medications with dose where given.

Respond with a single JSON object and nothing else:
{"classification": "VALID" | "INVALID", "reason": "...",
 "entities": {"PatientName": "...", "PatientIdentifier": "...", "Gender": "...",
              "Vitals": "...", "Medications": "..."}}`

// LoadPrompt returns the prompt stored at path, or DefaultPrompt when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultPrompt, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read auditor prompt: %w", faults.ErrConfiguration, err)
	}

	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", fmt.Errorf("%w: auditor prompt file %s is empty", faults.ErrConfiguration, path)
	}
	return prompt, nil
}
