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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend"
	internallog "github.com/tombee/agentrun/internal/log"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// DefaultUserPageSize is the user listing page size when limit is absent.
const DefaultUserPageSize = 100

// LogoutMessage is returned by POST /auth/logout.
const LogoutMessage = "Logged out successfully"

// AccountService is the subset of auth.Accounts the handlers call.
type AccountService interface {
	Register(ctx context.Context, reg auth.Registration) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, token string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	User(ctx context.Context, id string) (*backend.User, error)
	Users(ctx context.Context, limit, offset int) ([]*backend.User, error)
}

// Option configures a Router.
type Option func(*Router)

// WithAccounts mounts the account routes.
func WithAccounts(accounts AccountService) Option {
	return func(r *Router) { r.accounts = accounts }
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh and POST /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UserResponse is returned by GET /users/me.
type UserResponse struct {
	User *backend.User `json:"user"`
}

// UserPagination describes one page of a user listing.
type UserPagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// UserListResponse is returned by GET /users.
type UserListResponse struct {
	Users      []*backend.User `json:"users"`
	Pagination UserPagination  `json:"pagination"`
}

// handleRegister handles POST {prefix}/auth/register.
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body auth.Registration
	if !decodeBody(w, req, &body) {
		return
	}
	session, err := r.accounts.Register(req.Context(), body)
	if err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusCreated, session)
}

// handleLogin handles POST {prefix}/auth/login.
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body LoginRequest
	if !decodeBody(w, req, &body) {
		return
	}
	session, err := r.accounts.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

// handleRefresh handles POST {prefix}/auth/refresh.
func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	var body RefreshRequest
	if !decodeBody(w, req, &body) {
		return
	}
	session, err := r.accounts.Refresh(req.Context(), body.RefreshToken)
	if err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

// handleLogout handles POST {prefix}/auth/logout.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	var body RefreshRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.accounts.Logout(req.Context(), body.RefreshToken); err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, ErrorResponse{Status: "success", Message: LogoutMessage})
}

// handleMe handles GET {prefix}/users/me.
func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	userID, _ := auth.UserFromContext(req.Context())
	user, err := r.accounts.User(req.Context(), userID)
	if err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, UserResponse{User: user})
}

// handleUsers handles GET {prefix}/users.
func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil || limit <= 0 {
		limit = DefaultUserPageSize
	}
	offset, err := intParam(query.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	users, err := r.accounts.Users(req.Context(), limit, offset)
	if err != nil {
		r.writeAccountError(w, req, err)
		return
	}
	if users == nil {
		users = []*backend.User{}
	}
	writeSuccess(w, http.StatusOK, UserListResponse{
		Users:      users,
		Pagination: UserPagination{Limit: limit, Offset: offset, Count: len(users)},
	})
}

// decodeBody reads a JSON object body. It writes the error response and
// returns false on failure.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeAccountError maps account errors onto HTTP statuses.
func (r *Router) writeAccountError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		notFound     *agenterrors.NotFoundError
		validation   *agenterrors.ValidationError
		conflict     *agenterrors.ConflictError
		unauthorized *agenterrors.UnauthorizedError
	)

	switch {
	case errors.Is(err, auth.ErrRegistrationDisabled):
		writeError(w, http.StatusForbidden, "Registration is disabled")
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, validation.Message)
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, unauthorized.Reason)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		r.logger.Error("request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error_type", agenterrors.TypeOf(err)),
			internallog.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
