package credentials

import "context"

// Static provides fixed credentials. Intended for development and tests;
// production deployments should prefer a keeper-backed provider.
type Static struct {
	creds Credentials
}

// NewStatic creates a provider that always returns the given pair.
func NewStatic(username, password string) *Static {
	return &Static{creds: Credentials{Username: username, Password: password}}
}

// Credentials returns the static pair.
func (s *Static) Credentials(ctx context.Context) (Credentials, error) {
	return s.creds, nil
}
