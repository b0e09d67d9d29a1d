// Package credentials resolves broker credentials at connect time.
//
// The bus dials lazily, so a provider is consulted whenever a connection is
// (re-)established. Static credentials cover development; the keeper-backed
// provider decrypts credentials held in a secret manager via the Go CDK, so
// the same code path works against AWS KMS, GCP KMS, Azure Key Vault,
// HashiCorp Vault, or a local key:
//
//	provider, err := credentials.NewKeeperProviderFromFile(ctx,
//	    "awskms://alias/bcommerce-bus", "/etc/bcommerce/bus-creds.enc")
package credentials

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials is returned when decrypted credential material
	// is malformed or incomplete.
	ErrInvalidCredentials = errors.New("credentials: invalid credential material")

	// ErrProviderClosed is returned when using a closed provider.
	ErrProviderClosed = errors.New("credentials: provider is closed")
)

// Credentials is a broker username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Provider yields the credentials to dial the broker with.
type Provider interface {
	// Credentials returns the current credentials. Implementations may cache
	// and refresh behind this call.
	Credentials(ctx context.Context) (Credentials, error)
}
