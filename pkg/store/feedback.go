package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
)

const feedbackColumns = `id, interview_id, user_id, total_score, category_scores, strengths, areas_for_improvement, final_assessment, created_at`

// CreateFeedback inserts one feedback row. There is no write-time uniqueness
// per (interviewId, userId); a second pipeline run creates a second row.
func (s *Store) CreateFeedback(ctx context.Context, feedback *types.Feedback) error {
	strengths := feedback.Strengths
	if strengths == nil {
		strengths = []string{}
	}
	areas := feedback.AreasForImprovement
	if areas == nil {
		areas = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (`+feedbackColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		feedback.ID, feedback.InterviewID, feedback.UserID, feedback.TotalScore,
		feedback.CategoryScores, strengths, areas, feedback.FinalAssessment, feedback.CreatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "insert feedback", Err: err}
	}
	return nil
}

// FeedbackByInterview returns the first-written feedback row for one
// (interviewId, userId), or core.ErrNotFound. Ordering by id makes "first
// written" deterministic when duplicates exist.
func (s *Store) FeedbackByInterview(ctx context.Context, interviewID, userID string) (*types.Feedback, error) {
	feedback := &types.Feedback{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+feedbackColumns+` FROM feedback
		 WHERE interview_id = $1 AND user_id = $2
		 ORDER BY id ASC
		 LIMIT 1`,
		interviewID, userID).
		Scan(&feedback.ID, &feedback.InterviewID, &feedback.UserID, &feedback.TotalScore,
			&feedback.CategoryScores, &feedback.Strengths, &feedback.AreasForImprovement,
			&feedback.FinalAssessment, &feedback.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "select feedback", Err: err}
	}
	return feedback, nil
}
