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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the authenticated user id, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// ExtractBearerToken extracts the Bearer token from the Authorization header.
// The scheme is matched case-insensitively per RFC 6750.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("empty Bearer token")
	}
	return token, nil
}

// ErrorWriter writes an error response with the given status and message.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// Middleware authenticates requests with bearer JWTs.
type Middleware struct {
	cfg      JWTConfig
	writeErr ErrorWriter
	logger   *slog.Logger
}

// NewMiddleware creates the bearer authentication middleware.
func NewMiddleware(cfg JWTConfig, writeErr ErrorWriter, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if writeErr == nil {
		writeErr = func(w http.ResponseWriter, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Middleware{cfg: cfg, writeErr: writeErr, logger: logger}
}

// Wrap requires a valid token and stores the caller's user id in the request context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearerToken(r)
		if err != nil {
			m.writeErr(w, http.StatusUnauthorized, "No token provided")
			return
		}

		claims, err := ValidateJWT(token, m.cfg)
		if err == nil && claims.Use == UseRefresh {
			err = fmt.Errorf("refresh token used as bearer token")
		}
		if err != nil {
			m.logger.Debug("rejected bearer token", slog.String("error", err.Error()), slog.String("path", r.URL.Path))
			m.writeErr(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.User())))
	})
}

// RateLimit returns middleware that limits each authenticated user. It must
// run inside Middleware.Wrap so the user id is known.
func RateLimit(rl *RateLimiter, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			userID, _ := UserFromContext(r.Context())
			if userID == "" {
				// Fallback to IP-based limiting for unauthenticated requests
				userID = r.RemoteAddr
			}

			if ok, wait := rl.Allow(userID); !ok {
				seconds := int(wait.Seconds())
				if float64(seconds) < wait.Seconds() {
					seconds++
				}
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprint(seconds))
				writeErr(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
