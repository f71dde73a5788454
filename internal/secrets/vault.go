package secrets

import "context"

// Vault holds third-party credentials (ads platform tokens, analytics
// dataset keys, DMS passwords) referenced from step params as
// ${{secrets.KEY}}. Values are encrypted at rest and only decrypted
// in-memory at resolution time. Resolve satisfies expressions.SecretSource.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence the vault needs: ciphertext in,
// ciphertext out. Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
