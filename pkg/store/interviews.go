package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
)

// Latest-interview limits. Part of the read contract, not deployment knobs.
const (
	DefaultLatestLimit = 20
	MaxLatestLimit     = 100
)

const interviewColumns = `id, user_id, role, type, level, techstack, questions, finalized, cover_image, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (*types.Interview, error) {
	itv := &types.Interview{}
	err := row.Scan(&itv.ID, &itv.UserID, &itv.Role, &itv.Type, &itv.Level,
		&itv.Techstack, &itv.Questions, &itv.Finalized, &itv.CoverImage, &itv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return itv, nil
}

// CreateInterview inserts one interview row. Only the intake webhook calls
// this; rows are immutable afterwards.
func (s *Store) CreateInterview(ctx context.Context, interview *types.Interview) error {
	techstack := interview.Techstack
	if techstack == nil {
		techstack = []string{}
	}
	questions := interview.Questions
	if questions == nil {
		questions = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interviews (`+interviewColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		interview.ID, interview.UserID, interview.Role, interview.Type, interview.Level,
		techstack, questions, interview.Finalized, interview.CoverImage, interview.CreatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "insert interview", Err: err}
	}
	return nil
}

// InterviewsByUser returns the caller's interviews, newest first.
func (s *Store) InterviewsByUser(ctx context.Context, userID string) ([]*types.Interview, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE user_id = $1 ORDER BY id DESC`,
		userID)
	if err != nil {
		return nil, &core.PersistenceError{Op: "select interviews", Err: err}
	}
	defer rows.Close()
	return collectInterviews(rows)
}

// LatestInterviews returns finalized interviews from other users, newest
// first. limit <= 0 means DefaultLatestLimit; larger values are clamped to
// MaxLatestLimit. The finalized and ownership predicates are independent
// filters; a row finalized after the query started may or may not appear.
func (s *Store) LatestInterviews(ctx context.Context, excludeUserID string, limit int) ([]*types.Interview, error) {
	limit = clampLimit(limit, DefaultLatestLimit, MaxLatestLimit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+interviewColumns+` FROM interviews
		 WHERE finalized = TRUE AND user_id <> $1
		 ORDER BY id DESC
		 LIMIT $2`,
		excludeUserID, limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "select latest interviews", Err: err}
	}
	defer rows.Close()
	return collectInterviews(rows)
}

// InterviewByID loads one interview, or core.ErrNotFound.
func (s *Store) InterviewByID(ctx context.Context, id string) (*types.Interview, error) {
	itv, err := scanInterview(s.pool.QueryRow(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "select interview", Err: err}
	}
	return itv, nil
}

func collectInterviews(rows pgx.Rows) ([]*types.Interview, error) {
	out := make([]*types.Interview, 0)
	for rows.Next() {
		itv, err := scanInterview(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "scan interview", Err: err}
		}
		out = append(out, itv)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "select interviews", Err: err}
	}
	return out, nil
}
