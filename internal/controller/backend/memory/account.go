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

package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/tombee/agentrun/internal/controller/backend"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// CreateUser stores a new user. Emails are unique ignoring case.
func (b *Backend) CreateUser(ctx context.Context, user *backend.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range b.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &agenterrors.ConflictError{Resource: "user", Message: "User with this email already exists"}
		}
	}
	if _, exists := b.users[user.ID]; exists {
		return &agenterrors.ConflictError{Resource: "user"}
	}

	user.CreatedAt = b.now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	b.users[user.ID] = &stored
	return nil
}

// GetUser retrieves a user by ID.
func (b *Backend) GetUser(ctx context.Context, id string) (*backend.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	u, exists := b.users[id]
	if !exists {
		return nil, &agenterrors.NotFoundError{Resource: "user", ID: id}
	}
	c := *u
	return &c, nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (b *Backend) GetUserByEmail(ctx context.Context, email string) (*backend.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, u := range b.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, &agenterrors.NotFoundError{Resource: "user", ID: email}
}

// ListUsers returns one page of users, newest first.
func (b *Backend) ListUsers(ctx context.Context, limit, offset int) ([]*backend.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make([]*backend.User, 0, len(b.users))
	for _, u := range b.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	result := make([]*backend.User, 0, end-offset)
	for _, u := range all[offset:end] {
		c := *u
		result = append(result, &c)
	}
	return result, nil
}

// CreateRefreshToken stores an issued refresh token.
func (b *Backend) CreateRefreshToken(ctx context.Context, token *backend.RefreshToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tokens[token.Token]; exists {
		return &agenterrors.ConflictError{Resource: "refresh_token"}
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = b.now()
	}
	stored := *token
	b.tokens[token.Token] = &stored
	return nil
}

// GetRefreshToken retrieves a refresh token record.
func (b *Backend) GetRefreshToken(ctx context.Context, token string) (*backend.RefreshToken, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, exists := b.tokens[token]
	if !exists {
		return nil, &agenterrors.NotFoundError{Resource: "refresh_token"}
	}
	c := *t
	return &c, nil
}

// DeleteRefreshToken removes a refresh token record.
func (b *Backend) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tokens[token]; !exists {
		return false, nil
	}
	delete(b.tokens, token)
	return true, nil
}

// DeleteExpiredRefreshTokens removes tokens that expired before cutoff.
func (b *Backend) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for k, t := range b.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(b.tokens, k)
			n++
		}
	}
	return n, nil
}
