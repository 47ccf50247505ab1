package auditor

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/platform/faults"
)

func TestReplyFromResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: `{"classification":`},
				nil,
				{Text: `"VALID"}`},
			}},
		}},
	}

	reply := replyFromResponse(resp)
	if !reply.Complete {
		t.Error("expected complete reply for STOP")
	}
	if got := joinSegments(reply.Segments); got != `{"classification":"VALID"}` {
		t.Errorf("unexpected segments %q", got)
	}
}

func TestReplyFromResponse_Incomplete(t *testing.T) {
	for _, resp := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMaxTokens}}},
		{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}},
	} {
		if reply := replyFromResponse(resp); reply.Complete {
			t.Errorf("expected incomplete reply for %+v", resp)
		}
	}
}

func TestResponseSchema(t *testing.T) {
	s := ResponseSchema()
	if s.Type != genai.TypeObject {
		t.Fatalf("expected object schema, got %v", s.Type)
	}
	entities := s.Properties["entities"]
	if entities == nil || len(entities.Required) != len(identity.Fields) {
		t.Fatalf("expected entities with %d required fields", len(identity.Fields))
	}
	for _, f := range identity.Fields {
		if p := entities.Properties[f]; p == nil || p.Type != genai.TypeString {
			t.Errorf("expected string property %s", f)
		}
	}
	if got := s.Properties["classification"].Enum; len(got) != 2 {
		t.Errorf("expected classification enum of two values, got %v", got)
	}
}

func TestNewGenAIModel_RequiresSettings(t *testing.T) {
	if _, err := NewGenAIModel(context.Background(), "", "gemini-2.5-flash"); !errors.Is(err, faults.ErrConfiguration) {
		t.Errorf("missing key: got %v", err)
	}
	if _, err := NewGenAIModel(context.Background(), "key", ""); !errors.Is(err, faults.ErrConfiguration) {
		t.Errorf("missing model: got %v", err)
	}
}
