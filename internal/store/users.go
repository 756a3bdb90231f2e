package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/model"
)

// UserStore is the repository over the User and Role entities.
type UserStore struct {
	pool Pool
}

// GetByUsername looks up a user by username, joining its role names.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `
		SELECT u.user_id, username, password_hash, full_name, deactivated,
		       COALESCE(array_agg(r.role_name) FILTER (WHERE r.role_name IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.user_id
		WHERE u.username = $1
		GROUP BY u.user_id
	`, username).Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.FullName, &u.Deactivated, &u.Roles)
	if err != nil {
		if isNoRows(err) {
			return nil, apierr.NotFound("user %q not found", username)
		}
		return nil, apierr.Storage(err, "get user by username")
	}
	return &u, nil
}

// Create inserts a new user. Users are created once and never destroyed;
// there is no Delete.
func (s *UserStore) Create(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, full_name, deactivated)
		VALUES ($1, $2, $3, false)
		RETURNING user_id
	`, u.Username, u.PasswordHash, u.FullName).Scan(&id)
	if err != nil {
		return 0, apierr.Storage(err, "create user")
	}
	return id, nil
}

// SetRoles replaces a user's role set. Roles are mutated only by an admin;
// the caller is responsible for that authorization check.
func (s *UserStore) SetRoles(ctx context.Context, userID int64, roles []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Storage(err, "begin set roles")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return apierr.Storage(err, "clear roles")
	}
	for _, role := range roles {
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)`, userID, role); err != nil {
			return apierr.Storage(err, "insert role %q", role)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Storage(err, "commit set roles")
	}
	return nil
}

// ListRoles returns the static seed set of roles.
func (s *UserStore) ListRoles(ctx context.Context) ([]model.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, description FROM roles ORDER BY name`)
	if err != nil {
		return nil, apierr.Storage(err, "list roles")
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r.Name, &r.Description); err != nil {
			return nil, apierr.Storage(err, "scan role")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
