// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Secret-at-rest encryption for config values.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption)
//   - 12-byte random nonce per encryption
//   - Key derived from OSTIARIUS_ENCRYPTION_KEY using scrypt
//
// Encrypted values carry the "enc:" prefix followed by
// base64(nonce || ciphertext || tag), so they can sit next to plaintext
// values in the same YAML file. Plaintext values pass through Load
// unchanged.

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// EncryptedPrefix marks a config value as encrypted at rest.
const EncryptedPrefix = "enc:"

const (
	// scrypt parameters. Interactive-grade: ~100ms on current hardware,
	// paid once per process start.
	scryptN = 32768
	scryptR = 8
	scryptP = 1

	// keyDerivationSalt binds derived keys to this application's config
	// encryption use case.
	keyDerivationSalt = "ostiarius-config-secrets"

	aesKeySize   = 32
	gcmNonceSize = 12
)

var (
	// ErrEmptyPassphrase is returned when no encryption passphrase is provided.
	ErrEmptyPassphrase = errors.New("encryption passphrase cannot be empty")

	// ErrEmptyPlaintext is returned when attempting to encrypt empty data.
	ErrEmptyPlaintext = errors.New("plaintext cannot be empty")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")

	// ErrInvalidCiphertext is returned when the ciphertext format is invalid.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")

	// ErrCiphertextTooShort is returned when the ciphertext is shorter than the minimum length.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Encryptor provides AES-256-GCM encryption for config secrets. The key is
// derived from the operator passphrase with scrypt once at construction.
type Encryptor struct {
	cipher cipher.AEAD
}

// NewEncryptor derives the AES key from the passphrase and prepares the
// AEAD. Returns ErrEmptyPassphrase for an empty passphrase.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(keyDerivationSalt),
		scryptN, scryptR, scryptP, aesKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{cipher: gcm}, nil
}

// Encrypt encrypts a plaintext secret and returns a value ready to paste
// into the config file, "enc:" prefix included.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.cipher.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts an "enc:"-prefixed config value and returns the plaintext.
func (e *Encryptor) Decrypt(value string) (string, error) {
	encoded := strings.TrimPrefix(value, EncryptedPrefix)
	if encoded == "" {
		return "", ErrInvalidCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed: %s", ErrInvalidCiphertext, err.Error())
	}

	// Minimum length: nonce (12) + at least 1 byte + tag (16)
	minLength := gcmNonceSize + 1 + e.cipher.Overhead()
	if len(data) < minLength {
		return "", ErrCiphertextTooShort
	}

	nonce := data[:gcmNonceSize]
	plaintext, err := e.cipher.Open(nil, nonce, data[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a config value carries the encrypted marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// MaskCredential returns a masked version of a credential for display,
// showing only the last 4 characters.
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 4 {
		return "****"
	}
	return "****..." + credential[len(credential)-4:]
}

// DecryptSecrets decrypts every "enc:"-prefixed secret field in place.
// Plaintext fields pass through. The scrypt derivation only runs when at
// least one field is actually encrypted, so deployments with plaintext
// secrets pay nothing.
func (c *Config) DecryptSecrets(passphrase string) error {
	secrets := []*string{
		&c.Auth.JWTSecret,
		&c.BackingStore.Credentials,
		&c.Geocode.APIKey,
		&c.Tracker.APIKey,
		&c.ExternalPush.APIKey,
	}

	var enc *Encryptor
	for _, field := range secrets {
		if !IsEncrypted(*field) {
			continue
		}
		if enc == nil {
			if passphrase == "" {
				return fmt.Errorf("encrypted secret present but %s is not set", EncryptionKeyEnvVar)
			}
			var err error
			enc, err = NewEncryptor(passphrase)
			if err != nil {
				return err
			}
		}
		plain, err := enc.Decrypt(*field)
		if err != nil {
			return err
		}
		*field = plain
	}
	return nil
}
