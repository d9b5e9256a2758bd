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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// FileBackendPriority sits below the keychain so the file is only
	// written on hosts without a usable keychain.
	FileBackendPriority = 25

	// MasterKeyEnvVar holds the passphrase that unlocks the token file.
	MasterKeyEnvVar = "AGENTRUN_MASTER_KEY"

	// TokenFileName is the default file name inside the config directory.
	TokenFileName = "tokens.enc"
)

// argon2id parameters for deriving the AES-256 key
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
	saltLen    = 16
)

type sealedFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// FileBackend stores secrets in a single AES-256-GCM encrypted JSON file.
// The key is derived from a passphrase with argon2id and a fresh salt on
// every write. Without a passphrase the backend reports itself unavailable.
type FileBackend struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewFileBackend creates a backend over path. An empty passphrase falls back
// to AGENTRUN_MASTER_KEY.
func NewFileBackend(path, passphrase string) *FileBackend {
	if passphrase == "" {
		passphrase = os.Getenv(MasterKeyEnvVar)
	}
	return &FileBackend{path: path, passphrase: []byte(passphrase)}
}

// Name returns the backend identifier.
func (f *FileBackend) Name() string {
	return "file"
}

// Available reports whether a passphrase and a path are configured.
func (f *FileBackend) Available() bool {
	return len(f.passphrase) > 0 && f.path != ""
}

// Priority returns the backend priority.
func (f *FileBackend) Priority() int {
	return FileBackendPriority
}

// Get returns the secret stored under key.
func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set stores value under key, rewriting the file.
func (f *FileBackend) Set(ctx context.Context, key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.store(values)
}

// Delete removes key from the file.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	delete(values, key)
	return f.store(values)
}

// load decrypts the file. A missing file is an empty set.
func (f *FileBackend) load() (map[string]string, error) {
	values := make(map[string]string)

	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var sealed sealedFile
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}

	gcm, err := f.cipher(sealed.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed.Nonce, sealed.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: wrong master key or corrupted file", f.path)
	}
	defer clear(plain)

	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("parse decrypted %s: %w", f.path, err)
	}
	return values, nil
}

// store encrypts values under a new salt and nonce and replaces the file.
func (f *FileBackend) store(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return err
	}
	defer clear(plain)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := f.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	out, err := json.Marshal(sealedFile{Salt: salt, Nonce: nonce, Data: gcm.Seal(nil, nonce, plain, nil)})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(f.path), err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) cipher(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.passphrase, salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
