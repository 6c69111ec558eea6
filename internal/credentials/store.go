package credentials

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a GUID has no stored credential.
var ErrNotFound = errors.New("credential not found")

// KeyPrefix prefixes every generated credential GUID.
const KeyPrefix = "credential_"

// Store keeps credentials keyed by an opaque GUID so workflow inputs never
// carry secrets.
type Store interface {
	Put(ctx context.Context, cred Credential) (string, error)
	Get(ctx context.Context, guid string) (Credential, error)
	Delete(ctx context.Context, guid string) error
	Close() error
}

// NewGUID returns a fresh credential key.
func NewGUID() string {
	return KeyPrefix + uuid.NewString()
}
