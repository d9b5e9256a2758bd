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

package secrets

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/tombee/agentrun/internal/config"
)

const tokenKeyPrefix = "token:"

// TokenKey returns the secret key under which the token for server is stored.
func TokenKey(server string) string {
	return tokenKeyPrefix + strings.TrimRight(server, "/")
}

func isTokenKey(key string) bool {
	return strings.HasPrefix(key, tokenKeyPrefix)
}

// TokenStore saves and loads API tokens per server.
type TokenStore struct {
	resolver *Resolver
}

// NewTokenStore creates a store backed by AGENTRUN_TOKEN, the OS keychain and,
// when AGENTRUN_MASTER_KEY is set, an encrypted file in the config directory.
func NewTokenStore() *TokenStore {
	backends := []SecretBackend{NewEnvBackend(), NewKeychainBackend()}
	if dir, err := config.ConfigDir(); err == nil {
		backends = append(backends, NewFileBackend(filepath.Join(dir, TokenFileName), ""))
	}
	return NewTokenStoreWith(NewResolver(backends...))
}

// NewTokenStoreWith creates a store over an explicit resolver.
func NewTokenStoreWith(r *Resolver) *TokenStore {
	return &TokenStore{resolver: r}
}

// Token returns the token for server.
func (s *TokenStore) Token(ctx context.Context, server string) (string, error) {
	return s.resolver.Get(ctx, TokenKey(server))
}

// Save stores the token for server.
func (s *TokenStore) Save(ctx context.Context, server, token string) error {
	return s.resolver.Set(ctx, TokenKey(server), token)
}

// Forget removes the stored token for server.
func (s *TokenStore) Forget(ctx context.Context, server string) error {
	return s.resolver.Delete(ctx, TokenKey(server))
}
