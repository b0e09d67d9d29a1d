package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gocloud.dev/secrets"
	// Keeper backends are opt-in; import the driver for your secret manager
	// in application code:
	//   _ "gocloud.dev/secrets/awskms"
	//   _ "gocloud.dev/secrets/azurekeyvault"
	//   _ "gocloud.dev/secrets/gcpkms"
	//   _ "gocloud.dev/secrets/hashivault"
	//   _ "gocloud.dev/secrets/localsecrets"
)

// KeeperProvider decrypts a credentials document with a Go CDK secrets
// keeper and caches the result for a TTL. The document is the JSON form of
// Credentials, encrypted with the keeper's key.
type KeeperProvider struct {
	keeper     *secrets.Keeper
	ciphertext []byte
	cacheTTL   time.Duration

	mu     sync.Mutex
	cached *Credentials
	expiry time.Time
	closed bool
}

// KeeperOption configures a KeeperProvider.
type KeeperOption func(*KeeperProvider)

// WithCacheTTL sets how long decrypted credentials are reused before the
// ciphertext is decrypted again. Default is 5 minutes; zero disables caching.
func WithCacheTTL(ttl time.Duration) KeeperOption {
	return func(p *KeeperProvider) {
		p.cacheTTL = ttl
	}
}

// NewKeeperProvider opens the keeper at keeperURL and serves credentials
// decrypted from ciphertext.
func NewKeeperProvider(ctx context.Context, keeperURL string, ciphertext []byte, opts ...KeeperOption) (*KeeperProvider, error) {
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("credentials: open keeper %q: %w", keeperURL, err)
	}

	p := &KeeperProvider{
		keeper:     keeper,
		ciphertext: ciphertext,
		cacheTTL:   5 * time.Minute,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// NewKeeperProviderFromFile reads the encrypted credentials document from
// path and opens a provider over it.
func NewKeeperProviderFromFile(ctx context.Context, keeperURL, path string, opts ...KeeperOption) (*KeeperProvider, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return NewKeeperProvider(ctx, keeperURL, ciphertext, opts...)
}

// Credentials returns the decrypted pair, refreshing the cache when the TTL
// has lapsed.
func (p *KeeperProvider) Credentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Credentials{}, ErrProviderClosed
	}

	if p.cached != nil && time.Now().Before(p.expiry) {
		return *p.cached, nil
	}

	plaintext, err := p.keeper.Decrypt(ctx, p.ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials: decrypt: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if creds.Username == "" {
		return Credentials{}, fmt.Errorf("%w: username is empty", ErrInvalidCredentials)
	}

	p.cached = &creds
	p.expiry = time.Now().Add(p.cacheTTL)
	return creds, nil
}

// Close releases the keeper. The provider is unusable afterwards.
func (p *KeeperProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.cached = nil
	return p.keeper.Close()
}
