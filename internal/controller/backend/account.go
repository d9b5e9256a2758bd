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

package backend

import (
	"context"
	"time"
)

// User is an API account. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Active       bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RefreshToken is an issued refresh token. A token is valid only while its
// record exists; using it deletes the record.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStore persists API accounts.
type UserStore interface {
	// CreateUser stores a new user. A duplicate email is a
	// *errors.ConflictError. CreatedAt and UpdatedAt are stamped by the store.
	CreateUser(ctx context.Context, user *User) error

	// GetUser and GetUserByEmail return a *errors.NotFoundError with
	// Resource "user" when no account matches.
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// ListUsers returns one page of users, newest first.
	ListUsers(ctx context.Context, limit, offset int) ([]*User, error)
}

// RefreshTokenStore persists issued refresh tokens.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns a *errors.NotFoundError with Resource
	// "refresh_token" for unknown tokens.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken reports whether a record was removed. Exactly one
	// of two concurrent callers sees true.
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)

	// DeleteExpiredRefreshTokens removes tokens that expired before cutoff.
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int, error)
}

// AccountStore is implemented by every backend in this module.
type AccountStore interface {
	UserStore
	RefreshTokenStore
}
