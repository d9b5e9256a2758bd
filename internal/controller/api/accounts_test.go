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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tombee/agentrun/internal/controller/auth"
	"github.com/tombee/agentrun/internal/controller/backend/memory"
	"github.com/tombee/agentrun/internal/controller/queue"
	"github.com/tombee/agentrun/internal/controller/runner"
	internallog "github.com/tombee/agentrun/internal/log"
)

var testRefreshSecret = []byte("router-refresh-secret-0123456789abcd")

func newAccountServer(t *testing.T) http.Handler {
	t.Helper()

	store := memory.New()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() {
		store.Close()
		q.Close()
	})

	accounts := auth.NewAccounts(store, auth.AccountsConfig{
		Access:     auth.JWTConfig{Secret: testSecret},
		Refresh:    auth.JWTConfig{Secret: testRefreshSecret},
		BcryptCost: bcrypt.MinCost,
	}, internallog.Discard())

	svc := runner.NewService(store, q, runner.WithLogger(internallog.Discard()))
	cfg := Config{
		JWT:       auth.JWTConfig{Secret: testSecret},
		RateLimit: auth.RateLimitConfig{MaxRequests: 100, Window: time.Minute, Enabled: true},
	}
	return NewRouter(cfg, svc, internallog.Discard(), WithAccounts(accounts)).Handler()
}

func call(t *testing.T, h http.Handler, method, path, bearer, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func registerUser(t *testing.T, h http.Handler, email string) auth.Session {
	t.Helper()
	rec, env := call(t, h, http.MethodPost, "/api/v1/auth/register", "",
		`{"email":"`+email+`","password":"password123","firstName":"John"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var s auth.Session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestRegister(t *testing.T) {
	h := newAccountServer(t)

	rec, env := call(t, h, http.MethodPost, "/api/v1/auth/register", "",
		`{"email":"test@example.com","password":"password123","firstName":"John","lastName":"Doe"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "success", env.Status)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data["accessToken"])
	assert.NotEmpty(t, data["refreshToken"])
	user := data["user"].(map[string]any)
	assert.Equal(t, "test@example.com", user["email"])
	assert.Equal(t, "Doe", user["lastName"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "PasswordHash")

	rec, env = call(t, h, http.MethodPost, "/api/v1/auth/register", "",
		`{"email":"test@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User with this email already exists", env.Message)
}

func TestRegister_Validation(t *testing.T) {
	h := newAccountServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing email", `{"password":"password123"}`, http.StatusUnprocessableEntity},
		{"invalid email", `{"email":"not-an-email","password":"password123"}`, http.StatusUnprocessableEntity},
		{"short password", `{"email":"a@example.com","password":"short"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"email":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := call(t, h, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestLogin(t *testing.T) {
	h := newAccountServer(t)
	registerUser(t, h, "a@example.com")

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"valid", `{"email":"a@example.com","password":"password123"}`, http.StatusOK, ""},
		{"wrong password", `{"email":"a@example.com","password":"wrong-password"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"unknown user", `{"email":"b@example.com","password":"password123"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"missing password", `{"email":"a@example.com"}`, http.StatusUnprocessableEntity, "Password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := call(t, h, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
		})
	}
}

func TestRefreshAndLogout(t *testing.T) {
	h := newAccountServer(t)
	s := registerUser(t, h, "a@example.com")

	rec, env := call(t, h, http.MethodPost, "/api/v1/auth/refresh", "", `{"refreshToken":"`+s.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated auth.Session
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, s.RefreshToken, rotated.RefreshToken)

	rec, _ = call(t, h, http.MethodPost, "/api/v1/auth/refresh", "", `{"refreshToken":"`+s.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rotated token cannot be reused")

	rec, _ = call(t, h, http.MethodPost, "/api/v1/auth/refresh", "", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, env = call(t, h, http.MethodPost, "/api/v1/auth/logout", "", `{"refreshToken":"`+rotated.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LogoutMessage, env.Message)

	rec, _ = call(t, h, http.MethodPost, "/api/v1/auth/refresh", "", `{"refreshToken":"`+rotated.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "logged out token cannot be used")
}

func TestUsers(t *testing.T) {
	h := newAccountServer(t)
	s := registerUser(t, h, "a@example.com")
	registerUser(t, h, "b@example.com")

	rec, _ := call(t, h, http.MethodGet, "/api/v1/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = call(t, h, http.MethodGet, "/api/v1/users/me", s.RefreshToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh token is not a bearer token")

	rec, env := call(t, h, http.MethodGet, "/api/v1/users/me", s.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me struct {
		User map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "a@example.com", me.User["email"])
	assert.Equal(t, "John", me.User["firstName"])

	rec, env = call(t, h, http.MethodGet, "/api/v1/users?limit=1", s.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Users      []map[string]any `json:"users"`
		Pagination UserPagination   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Users, 1)
	assert.Equal(t, UserPagination{Limit: 1, Offset: 0, Count: 1}, list.Pagination)

	rec, env = call(t, h, http.MethodGet, "/api/v1/users?limit=abc&offset=1", s.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, UserPagination{Limit: DefaultUserPageSize, Offset: 1, Count: 1}, list.Pagination)
}

func TestUsers_DeletedAccount(t *testing.T) {
	h := newAccountServer(t)
	token, err := auth.GenerateJWT(auth.Claims{UserID: "ghost"}, auth.JWTConfig{Secret: testSecret}, time.Hour)
	require.NoError(t, err)

	rec, env := call(t, h, http.MethodGet, "/api/v1/users/me", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", env.Message)
}

func TestAccountRoutesAbsentWithoutService(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unmounted auth routes fall under the protected prefix")

	rec, _ = s.do(t, http.MethodGet, "/api/v1/users/me", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
