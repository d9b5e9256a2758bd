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

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tombee/agentrun/internal/controller/backend"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// DefaultBcryptCost is the bcrypt work factor for stored passwords.
const DefaultBcryptCost = 12

// ErrRegistrationDisabled is returned by Register when sign-up is off.
var ErrRegistrationDisabled = errors.New("registration is disabled")

// AccountsConfig configures token issuance for Accounts.
type AccountsConfig struct {
	// Access signs and verifies bearer tokens. It must match the
	// Middleware configuration.
	Access    JWTConfig
	AccessTTL time.Duration

	// Refresh signs and verifies refresh tokens.
	Refresh    JWTConfig
	RefreshTTL time.Duration

	// BcryptCost defaults to DefaultBcryptCost.
	BcryptCost int

	// DisableRegistration rejects Register calls.
	DisableRegistration bool
}

// Session is the result of a successful register, login or refresh.
type Session struct {
	User         *backend.User `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

// Registration holds the fields accepted when creating an account.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Accounts registers users and issues rotating refresh tokens.
type Accounts struct {
	store  backend.AccountStore
	cfg    AccountsConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewAccounts creates the account service.
func NewAccounts(store backend.AccountStore, cfg AccountsConfig, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	return &Accounts{
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "accounts")),
		now:    time.Now,
	}
}

// Register creates an active account and opens a session for it.
func (a *Accounts) Register(ctx context.Context, reg Registration) (*Session, error) {
	if a.cfg.DisableRegistration {
		return nil, ErrRegistrationDisabled
	}
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return nil, err
	}
	if len(reg.Password) < MinPasswordLength {
		return nil, &agenterrors.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), a.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &backend.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
		Active:       true,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	a.logger.Info("user registered", slog.String("user_id", user.ID))
	return a.openSession(ctx, user)
}

// Login checks credentials and opens a session.
func (a *Accounts) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &agenterrors.ValidationError{Field: "password", Message: "Password is required"}
	}

	user, err := a.store.GetUserByEmail(ctx, email)
	var notFound *agenterrors.NotFoundError
	if errors.As(err, &notFound) {
		return nil, &agenterrors.UnauthorizedError{Reason: "Invalid credentials"}
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, &agenterrors.UnauthorizedError{Reason: "Account is disabled"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.logger.Debug("login rejected", slog.String("user_id", user.ID))
		return nil, &agenterrors.UnauthorizedError{Reason: "Invalid credentials"}
	}

	return a.openSession(ctx, user)
}

// Refresh exchanges a refresh token for a new session. The presented token
// is consumed; presenting it again fails.
func (a *Accounts) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, &agenterrors.ValidationError{Field: "refreshToken", Message: "Refresh token is required"}
	}

	claims, err := ValidateJWT(token, a.cfg.Refresh)
	if err != nil || claims.Use != UseRefresh {
		return nil, &agenterrors.UnauthorizedError{Reason: "Invalid refresh token"}
	}

	stored, err := a.store.GetRefreshToken(ctx, token)
	var notFound *agenterrors.NotFoundError
	if errors.As(err, &notFound) {
		return nil, &agenterrors.UnauthorizedError{Reason: "Refresh token not found"}
	}
	if err != nil {
		return nil, err
	}

	// Only one concurrent caller may rotate a given token.
	removed, err := a.store.DeleteRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, &agenterrors.UnauthorizedError{Reason: "Refresh token not found"}
	}
	if stored.ExpiresAt.Before(a.now()) {
		return nil, &agenterrors.UnauthorizedError{Reason: "Refresh token expired"}
	}

	user, err := a.store.GetUser(ctx, stored.UserID)
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, &agenterrors.UnauthorizedError{Reason: "User not found or inactive"}
	}

	return a.openSession(ctx, user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	if token == "" {
		return &agenterrors.ValidationError{Field: "refreshToken", Message: "Refresh token is required"}
	}
	_, err := a.store.DeleteRefreshToken(ctx, token)
	return err
}

// User returns one account.
func (a *Accounts) User(ctx context.Context, id string) (*backend.User, error) {
	return a.store.GetUser(ctx, id)
}

// Users returns one page of accounts, newest first.
func (a *Accounts) Users(ctx context.Context, limit, offset int) ([]*backend.User, error) {
	return a.store.ListUsers(ctx, limit, offset)
}

// PruneExpired removes refresh tokens that have expired.
func (a *Accounts) PruneExpired(ctx context.Context) (int, error) {
	return a.store.DeleteExpiredRefreshTokens(ctx, a.now())
}

func (a *Accounts) openSession(ctx context.Context, user *backend.User) (*Session, error) {
	access, err := GenerateJWT(Claims{UserID: user.ID, Email: user.Email}, a.cfg.Access, a.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	expiresAt := a.now().Add(a.cfg.RefreshTTL)
	refresh, err := GenerateJWT(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Email:  user.Email,
		Use:    UseRefresh,
	}, a.cfg.Refresh, a.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	if err := a.store.CreateRefreshToken(ctx, &backend.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}

	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &agenterrors.ValidationError{Field: "email", Message: "Email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", &agenterrors.ValidationError{Field: "email", Message: "Invalid email address"}
	}
	return strings.ToLower(email), nil
}
