package scoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxprep/voxprep/pkg/core"
)

// The five rubric categories. The names are part of the feedback contract:
// the response schema pins them and validation rejects any drift.
const (
	CategoryCommunication  = "Communication Skills"
	CategoryTechnical      = "Technical Knowledge"
	CategoryProblemSolving = "Problem Solving"
	CategoryCulturalFit    = "Cultural Fit"
	CategoryClarity        = "Confidence and Clarity"
)

// Categories returns the rubric categories in presentation order.
func Categories() []string {
	return []string{
		CategoryCommunication,
		CategoryTechnical,
		CategoryProblemSolving,
		CategoryCulturalFit,
		CategoryClarity,
	}
}

// modelFeedback is the JSON shape the model is asked to produce.
type modelFeedback struct {
	TotalScore          float64            `json:"totalScore"`
	CategoryScores      map[string]float64 `json:"categoryScores"`
	Strengths           []string           `json:"strengths"`
	AreasForImprovement []string           `json:"areasForImprovement"`
	FinalAssessment     string             `json:"finalAssessment"`
}

// feedbackSchema pins the model output to the fixed rubric.
func feedbackSchema() *genai.Schema {
	categoryScores := map[string]*genai.Schema{}
	for _, name := range Categories() {
		categoryScores[name] = &genai.Schema{
			Type:    genai.TypeNumber,
			Minimum: genai.Ptr(0.0),
			Maximum: genai.Ptr(100.0),
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"totalScore": {
				Type:    genai.TypeNumber,
				Minimum: genai.Ptr(0.0),
				Maximum: genai.Ptr(100.0),
			},
			"categoryScores": {
				Type:       genai.TypeObject,
				Properties: categoryScores,
				Required:   Categories(),
			},
			"strengths": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"areasForImprovement": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"finalAssessment": {Type: genai.TypeString},
		},
		Required: []string{
			"totalScore",
			"categoryScores",
			"strengths",
			"areasForImprovement",
			"finalAssessment",
		},
	}
}

// questionsSchema asks the model for a flat list of questions.
func questionsSchema() *genai.Schema {
	return &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeString},
	}
}

// parseFeedback decodes and validates model output against the rubric.
// Any mismatch is a SchemaValidationError; there is no retry.
func parseFeedback(raw string) (*modelFeedback, error) {
	var fb modelFeedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil {
		return nil, &core.SchemaValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := validateFeedback(&fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

func validateFeedback(fb *modelFeedback) error {
	if fb.TotalScore < 0 || fb.TotalScore > 100 {
		return &core.SchemaValidationError{Reason: fmt.Sprintf("totalScore %v out of range", fb.TotalScore)}
	}
	want := Categories()
	if len(fb.CategoryScores) != len(want) {
		return &core.SchemaValidationError{Reason: fmt.Sprintf("got %d categories, want %d", len(fb.CategoryScores), len(want))}
	}
	for _, name := range want {
		score, ok := fb.CategoryScores[name]
		if !ok {
			return &core.SchemaValidationError{Reason: fmt.Sprintf("missing category %q", name)}
		}
		if score < 0 || score > 100 {
			return &core.SchemaValidationError{Reason: fmt.Sprintf("category %q score %v out of range", name, score)}
		}
	}
	if strings.TrimSpace(fb.FinalAssessment) == "" {
		return &core.SchemaValidationError{Reason: "empty finalAssessment"}
	}
	for _, s := range fb.Strengths {
		if strings.TrimSpace(s) == "" {
			return &core.SchemaValidationError{Reason: "blank entry in strengths"}
		}
	}
	for _, s := range fb.AreasForImprovement {
		if strings.TrimSpace(s) == "" {
			return &core.SchemaValidationError{Reason: "blank entry in areasForImprovement"}
		}
	}
	return nil
}

// parseQuestions decodes model output for question generation. Blank lines
// are dropped; an empty result is a schema mismatch.
func parseQuestions(raw string) ([]string, error) {
	var questions []string
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, &core.SchemaValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, &core.SchemaValidationError{Reason: "no questions in response"}
	}
	return out, nil
}
