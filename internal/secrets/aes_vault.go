package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/lotwise/driveline/pkg/schema"
)

// VaultConfig configures key derivation for the AES vault. Provide either
// MasterKey (raw 32 bytes) or Passphrase plus Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key, takes priority
	Passphrase string // derive the key via PBKDF2
	Salt       []byte // required with Passphrase
	Iterations int    // PBKDF2 iterations, default 100_000
}

// AESVault seals secrets with AES-256-GCM before they reach the store. The
// nonce is random per value and prefixed to the ciphertext, so storing the
// same plaintext twice never yields the same bytes.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault derives the key and prepares the AEAD.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"vault master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"vault needs either a master key or a passphrase")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"vault passphrase requires a salt")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Store encrypts the value and persists the ciphertext.
func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.store.StoreSecret(ctx, key, v.aead.Seal(nonce, nonce, value, nil))
}

// Resolve fetches and decrypts one secret.
func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewErrorf(schema.ErrCodeInternal,
			"secret %q: stored ciphertext is truncated", key)
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal,
			"secret %q: decrypt failed: %s", key, err.Error()).WithCause(err)
	}
	return plaintext, nil
}

// Delete removes a secret from the store.
func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

// List returns the stored secret keys. Values are never listed.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
