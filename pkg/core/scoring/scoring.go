// Package scoring turns finished call transcripts into structured interview
// feedback, and generates interview question sets for the intake flow. Both
// run as a single structured-generation call against a hosted model.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/voxprep/voxprep/internal/ids"
	"github.com/voxprep/voxprep/pkg/core/types"
)

const (
	// DefaultQuestionCount is used when the intake request omits an amount.
	DefaultQuestionCount = 5

	// MaxQuestionCount caps a caller-supplied amount.
	MaxQuestionCount = 20
)

const feedbackPromptFmt = `You are an experienced interviewer reviewing a mock interview transcript. Be strict and judge only what the transcript supports; do not inflate scores.

Transcript:
%s

Score the candidate from 0 to 100 in each of these categories: %s. Then list concrete strengths, concrete areas for improvement, and write a short final assessment addressed to the candidate.`

const questionsPromptFmt = `Prepare questions for a job interview.
The job role is %s.
The experience level is %s.
The tech stack used in the job is: %s.
The focus between behavioural and technical questions should lean towards: %s.
The amount of questions required is: %d.
Return only the questions, without any additional text.
The questions are going to be read by a voice assistant, so do not use "/" or "*" or any other special characters.`

// Generator is the one structured-generation call the pipelines make.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// FeedbackWriter persists one feedback row per successful run.
type FeedbackWriter interface {
	CreateFeedback(ctx context.Context, feedback *types.Feedback) error
}

// Service runs the feedback and question pipelines.
type Service struct {
	model  Generator
	store  FeedbackWriter
	logger *slog.Logger
}

// NewService creates a scoring service.
func NewService(model Generator, store FeedbackWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: model, store: store, logger: logger}
}

// Generate runs the full feedback pipeline: render the transcript, make one
// structured model call, validate against the rubric, persist one row. All
// failure causes collapse to {Success: false} at this boundary; the cause is
// logged, not returned. Two runs over the same transcript create two rows.
func (s *Service) Generate(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) types.FeedbackResult {
	feedback, err := s.score(ctx, interviewID, userID, transcript)
	if err != nil {
		s.logger.Error("feedback pipeline failed",
			"interview_id", interviewID,
			"user_id", userID,
			"error", err)
		return types.FeedbackResult{Success: false}
	}
	s.logger.Info("feedback created",
		"interview_id", interviewID,
		"feedback_id", feedback.ID,
		"total_score", feedback.TotalScore)
	return types.FeedbackResult{Success: true, FeedbackID: feedback.ID}
}

func (s *Service) score(ctx context.Context, interviewID, userID string, transcript []types.TranscriptMessage) (*types.Feedback, error) {
	if len(transcript) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}
	prompt := fmt.Sprintf(feedbackPromptFmt,
		types.RenderTranscript(transcript),
		strings.Join(Categories(), ", "))

	raw, err := s.model.GenerateJSON(ctx, prompt, feedbackSchema())
	if err != nil {
		return nil, fmt.Errorf("generate feedback: %w", err)
	}
	parsed, err := parseFeedback(raw)
	if err != nil {
		return nil, err
	}

	feedback := &types.Feedback{
		ID:                  ids.NewWithPrefix("fbk"),
		InterviewID:         interviewID,
		UserID:              userID,
		TotalScore:          parsed.TotalScore,
		CategoryScores:      parsed.CategoryScores,
		Strengths:           parsed.Strengths,
		AreasForImprovement: parsed.AreasForImprovement,
		FinalAssessment:     parsed.FinalAssessment,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.CreateFeedback(ctx, feedback); err != nil {
		return nil, fmt.Errorf("persist feedback: %w", err)
	}
	return feedback, nil
}

// QuestionParams describe the interview an intake request wants questions for.
type QuestionParams struct {
	Role      string
	Level     string
	Type      string
	Techstack []string
	Amount    int
}

// GenerateQuestions produces an ordered question set for a new interview.
// Unlike Generate, failures are returned to the caller: the intake webhook
// reports them to the external flow instead of swallowing them.
func (s *Service) GenerateQuestions(ctx context.Context, params QuestionParams) ([]string, error) {
	amount := params.Amount
	if amount <= 0 {
		amount = DefaultQuestionCount
	}
	if amount > MaxQuestionCount {
		amount = MaxQuestionCount
	}
	prompt := fmt.Sprintf(questionsPromptFmt,
		params.Role,
		params.Level,
		strings.Join(params.Techstack, ", "),
		params.Type,
		amount)

	raw, err := s.model.GenerateJSON(ctx, prompt, questionsSchema())
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return parseQuestions(raw)
}
