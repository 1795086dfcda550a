// Package secrets keeps the archive API credentials encrypted at rest.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
)

var (
	// ErrNotConfigured is returned when no credentials file exists.
	ErrNotConfigured = errors.New("credentials are not configured")

	// ErrWrongPassphrase is returned when the passphrase does not unlock the file.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// Credentials authenticate the archive API.
type Credentials struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithWorkFactor sets the scrypt work factor used when saving. Lower values
// are faster and weaker.
func WithWorkFactor(logN int) Option {
	return func(s *CredentialStore) {
		s.workFactor = logN
	}
}

// CredentialStore encrypts credentials with a passphrase using age's
// scrypt-based passphrase encryption.
type CredentialStore struct {
	path       string
	workFactor int
}

// NewCredentialStore creates a store for the file at path.
func NewCredentialStore(path string, opts ...Option) *CredentialStore {
	s := &CredentialStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the encrypted file location.
func (s *CredentialStore) Path() string {
	return s.path
}

// IsConfigured reports whether the encrypted file exists.
func (s *CredentialStore) IsConfigured() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save encrypts creds with passphrase and replaces the stored file.
func (s *CredentialStore) Save(creds Credentials, passphrase string) error {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return errors.New("username and password are required")
	}
	if passphrase == "" {
		return errors.New("passphrase is required")
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var plain bytes.Buffer
	if err := toml.NewEncoder(&plain).Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain.Bytes()); err != nil {
		return fmt.Errorf("writing encrypted credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// Load decrypts the stored credentials.
func (s *CredentialStore) Load(passphrase string) (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNotConfigured
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("reading credentials file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return Credentials{}, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) || errors.Is(err, age.ErrIncorrectIdentity) {
			return Credentials{}, ErrWrongPassphrase
		}
		return Credentials{}, fmt.Errorf("decrypting credentials: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading decrypted credentials: %w", err)
	}

	var creds Credentials
	if _, err := toml.Decode(string(plain), &creds); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds, nil
}
