// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tombee/agentrun/internal/controller/backend"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, first_name, last_name, is_active, created_at, updated_at`

// CreateUser stores a new user. Emails are unique ignoring case.
func (b *Backend) CreateUser(ctx context.Context, user *backend.User) error {
	err := b.db.QueryRowContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		user.ID, user.Email, user.PasswordHash, nullString(user.FirstName), nullString(user.LastName), user.Active,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return &agenterrors.ConflictError{Resource: "user", Message: "User with this email already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (b *Backend) GetUser(ctx context.Context, id string) (*backend.User, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &agenterrors.NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (b *Backend) GetUserByEmail(ctx context.Context, email string) (*backend.User, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &agenterrors.NotFoundError{Resource: "user", ID: email}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of users, newest first.
func (b *Backend) ListUsers(ctx context.Context, limit, offset int) ([]*backend.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*backend.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateRefreshToken stores an issued refresh token.
func (b *Backend) CreateRefreshToken(ctx context.Context, token *backend.RefreshToken) error {
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3) RETURNING created_at`,
		token.Token, token.UserID, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if isUniqueViolation(err) {
		return &agenterrors.ConflictError{Resource: "refresh_token"}
	}
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token record.
func (b *Backend) GetRefreshToken(ctx context.Context, token string) (*backend.RefreshToken, error) {
	var t backend.RefreshToken
	err := b.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1`, token,
	).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &agenterrors.NotFoundError{Resource: "refresh_token"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &t, nil
}

// DeleteRefreshToken removes a refresh token record.
func (b *Backend) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpiredRefreshTokens removes tokens that expired before cutoff.
func (b *Backend) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanUser(s scanner) (*backend.User, error) {
	var (
		user                backend.User
		firstName, lastName sql.NullString
	)
	if err := s.Scan(&user.ID, &user.Email, &user.PasswordHash, &firstName, &lastName,
		&user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.FirstName = firstName.String
	user.LastName = lastName.String
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
