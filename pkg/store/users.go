package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
)

// CreateUser inserts one profile row. The id is the identity provider's
// subject. A duplicate id or email maps to core.ErrDuplicateAccount.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	plan := user.Plan
	if plan == "" {
		plan = types.PlanFree
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, plan) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, plan)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateAccount
		}
		return &core.PersistenceError{Op: "insert user", Err: err}
	}
	return nil
}

// UserByID loads one profile row, or core.ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (*types.User, error) {
	user := &types.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, plan FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Name, &user.Email, &user.Plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "select user", Err: err}
	}
	return user, nil
}

// SetUserPlan updates the billing plan. Only the billing webhook calls this.
func (s *Store) SetUserPlan(ctx context.Context, id, plan string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan = $2 WHERE id = $1`, id, plan)
	if err != nil {
		return &core.PersistenceError{Op: "update user plan", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
