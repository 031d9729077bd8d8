package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"med-analyzer/api/internal/vision"
)

const DefaultModel = "gemini-1.5-flash-latest"

// Sampling parameters and safety thresholds are fixed for every request.
const (
	temperature     float32 = 1
	topP            float32 = 0.95
	topK            int32   = 40
	maxOutputTokens int32   = 8192
)

var blockedCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

type Engine struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Engine{client: cl, model: model}, nil
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.model }

func (e *Engine) Close() error { return e.client.Close() }

// Analyze sends the image followed by the instruction. Blocked prompts and
// answers without text come back as *vision.EmptyResultError.
func (e *Engine) Analyze(ctx context.Context, in vision.Input) (string, error) {
	m := e.client.GenerativeModel(e.model)
	configure(m)

	resp, err := m.GenerateContent(ctx, contentParts(in)...)
	return extract(resp, err)
}

// contentParts puts the image first, then the instruction.
func contentParts(in vision.Input) []genai.Part {
	return []genai.Part{
		genai.Blob{MIMEType: in.MIMEType, Data: in.Image},
		genai.Text(in.Instruction),
	}
}

func configure(m *genai.GenerativeModel) {
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     ptrFloat32(temperature),
		TopP:            ptrFloat32(topP),
		TopK:            ptrInt32(topK),
		MaxOutputTokens: ptrInt32(maxOutputTokens),
	}
	m.SafetySettings = make([]*genai.SafetySetting, 0, len(blockedCategories))
	for _, c := range blockedCategories {
		m.SafetySettings = append(m.SafetySettings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockMediumAndAbove,
		})
	}
}

func extract(resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", &vision.EmptyResultError{Feedback: blockedFeedback(blocked)}
		}
		return "", err
	}
	txt := responseText(resp)
	if strings.TrimSpace(txt) == "" {
		var fb string
		if resp != nil {
			fb = promptFeedback(resp.PromptFeedback)
		}
		return "", &vision.EmptyResultError{Feedback: fb}
	}
	return txt, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func blockedFeedback(be *genai.BlockedError) string {
	var parts []string
	if fb := promptFeedback(be.PromptFeedback); fb != "" {
		parts = append(parts, fb)
	}
	if be.Candidate != nil {
		s := "finish_reason=" + be.Candidate.FinishReason.String()
		if r := safetyRatings(be.Candidate.SafetyRatings); r != "" {
			s += " " + r
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func promptFeedback(pf *genai.PromptFeedback) string {
	if pf == nil {
		return ""
	}
	s := "block_reason=" + pf.BlockReason.String()
	if r := safetyRatings(pf.SafetyRatings); r != "" {
		s += " " + r
	}
	return s
}

func safetyRatings(rs []*genai.SafetyRating) string {
	if len(rs) == 0 {
		return ""
	}
	items := make([]string, 0, len(rs))
	for _, r := range rs {
		if r == nil {
			continue
		}
		item := r.Category.String() + ":" + r.Probability.String()
		if r.Blocked {
			item += "(blocked)"
		}
		items = append(items, item)
	}
	return "safety_ratings=[" + strings.Join(items, ", ") + "]"
}

func ptrFloat32(v float32) *float32 { return &v }
func ptrInt32(v int32) *int32       { return &v }
