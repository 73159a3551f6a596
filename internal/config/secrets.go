package config

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

var osGetenv = os.Getenv

// KeyringService groups this app's secrets in the OS keychain.
const KeyringService = "riskwatch"

const tokenAccount = "backend-api-token"

// ResolveAPIToken looks up the backend token: environment first (CI,
// containers), then the OS keyring. An empty result means the backend is
// running unauthenticated, which is fine for local development.
func ResolveAPIToken() string {
	if v := strings.TrimSpace(envToken()); v != "" {
		return v
	}
	tok, err := keyring.Get(KeyringService, tokenAccount)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(tok)
}

// StoreAPIToken saves the token in the OS keyring.
func StoreAPIToken(token string) error {
	return keyring.Set(KeyringService, tokenAccount, strings.TrimSpace(token))
}

// DeleteAPIToken removes the stored token.
func DeleteAPIToken() error {
	return keyring.Delete(KeyringService, tokenAccount)
}

func envToken() string {
	// split out for tests
	return osGetenv("RISKWATCH_API_TOKEN")
}
