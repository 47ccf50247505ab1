package auditor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/intake/internal/domain/identity"
)

// ErrParse is returned when model output does not contain a usable payload.
var ErrParse = errors.New("failed to parse auditor output")

type wirePayload struct {
	Classification string          `json:"classification"`
	Reason         string          `json:"reason"`
	Entities       json.RawMessage `json:"entities"`
}

// Payload is the normalized result payload of one generation call.
type Payload struct {
	Classification Classification
	Reason         string
	Entities       identity.PatientEntities
}

// ParsePayload extracts and normalizes the result payload from raw model text.
func ParsePayload(text string) (Payload, error) {
	obj, err := ExtractJSONObject(StripCodeFence(text))
	if err != nil {
		return Payload{}, err
	}

	var p wirePayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return normalizePayload(p), nil
}

func normalizePayload(p wirePayload) Payload {
	var raw map[string]any
	if len(p.Entities) > 0 {
		// Entities that are not an object are treated as absent.
		_ = json.Unmarshal(p.Entities, &raw)
	}

	out := Payload{
		Classification: normalizeClassification(p.Classification),
		Reason:         strings.TrimSpace(p.Reason),
		Entities:       identity.NormalizeEntities(raw),
	}

	if out.Reason == "" {
		out.Reason = "no reason provided"
	}
	if out.Classification == ClassificationInvalid && !strings.EqualFold(strings.TrimSpace(p.Classification), string(ClassificationInvalid)) {
		out.Reason = fmt.Sprintf("unrecognized classification %q: %s", p.Classification, out.Reason)
	}

	return out
}

func normalizeClassification(v string) Classification {
	if strings.EqualFold(strings.TrimSpace(v), string(ClassificationValid)) {
		return ClassificationValid
	}
	return ClassificationInvalid
}

// StripCodeFence removes a surrounding markdown code fence, including an
// optional language tag on the opening fence.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the first balanced top-level JSON object in text.
// Braces inside string literals are ignored, so trailing commentary or
// unrelated braces after the object are never swallowed. Candidates that are
// unbalanced or not valid JSON are skipped and the scan resumes at the next
// brace.
func ExtractJSONObject(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty output", ErrParse)
	}

	unbalanced := -1
	for start := strings.IndexByte(text, '{'); start >= 0; {
		resume := start + 1
		if end := matchBrace(text, start); end < 0 {
			if unbalanced < 0 {
				unbalanced = start
			}
		} else {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
			resume = end + 1
		}

		next := strings.IndexByte(text[resume:], '{')
		if next < 0 {
			break
		}
		start = resume + next
	}

	if unbalanced >= 0 {
		return "", fmt.Errorf("%w: unbalanced JSON object starting at offset %d", ErrParse, unbalanced)
	}
	return "", fmt.Errorf("%w: no JSON object in output", ErrParse)
}

// matchBrace returns the index of the brace closing the object opened at
// start, or -1 when the text ends first.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// joinSegments concatenates reply segments for parsing.
func joinSegments(segments []string) string {
	var b bytes.Buffer
	for _, s := range segments {
		b.WriteString(s)
	}
	return b.String()
}
