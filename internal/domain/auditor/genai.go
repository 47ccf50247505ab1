package auditor

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/platform/faults"
)

// GenAIModel runs the audit task on a Gemini model. One instance is created
// at process start and shared by every chunk invocation.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// NewGenAIModel creates the process-scoped Gemini client.
func NewGenAIModel(ctx context.Context, apiKey, model string) (*GenAIModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is required", faults.ErrConfiguration)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: MODEL_ID is required", faults.ErrConfiguration)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIModel{client: client, model: model}, nil
}

// Name returns the model id, recorded on every outcome as auditor_model.
func (m *GenAIModel) Name() string {
	return fmt.Sprintf("genai:%s", m.model)
}

// Generate runs one generation call. Structured requests enforce
// ResponseSchema through the response MIME type and schema.
func (m *GenAIModel) Generate(ctx context.Context, req Request) (*Reply, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Prompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	}
	if req.Structured {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = ResponseSchema()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Text, genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	return replyFromResponse(resp), nil
}

func replyFromResponse(resp *genai.GenerateContentResponse) *Reply {
	reply := &Reply{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return reply
	}

	c := resp.Candidates[0]
	reply.FinishReason = string(c.FinishReason)
	reply.Complete = c.FinishReason == genai.FinishReasonStop

	if c.Content != nil {
		for _, part := range c.Content.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			reply.Segments = append(reply.Segments, part.Text)
		}
	}
	return reply
}

// ResponseSchema is the enforced output schema of the structured path.
func ResponseSchema() *genai.Schema {
	entityProps := make(map[string]*genai.Schema, len(identity.Fields))
	for _, f := range identity.Fields {
		entityProps[f] = &genai.Schema{Type: genai.TypeString}
	}
	entityProps[identity.FieldGender].Enum = []string{
		string(identity.GenderMale),
		string(identity.GenderFemale),
		string(identity.GenderOther),
		string(identity.GenderUnknown),
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"classification": {
				Type: genai.TypeString,
				Enum: []string{string(ClassificationValid), string(ClassificationInvalid)},
			},
			"reason": {Type: genai.TypeString},
			"entities": {
				Type:       genai.TypeObject,
				Properties: entityProps,
				Required:   identity.Fields,
			},
		},
		Required:         []string{"classification", "reason", "entities"},
		PropertyOrdering: []string{"classification", "reason", "entities"},
	}
}
