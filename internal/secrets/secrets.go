// Package secrets resolves the credentials the MoSAPI integration needs at
// runtime: per-TLD login credentials, the mTLS client certificate pair, and
// anything else keyed by well-known secret names.
package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// Store resolves a named secret to its string value.
type Store interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Secret name builders. The names are fixed by the operator's secret
// manager layout and shared with the legacy deployment, so they must not
// drift.

// UsernameSecret is the name of the MoSAPI login username for a TLD.
func UsernameSecret(tld string) string { return "mosapi_username_" + tld }

// PasswordSecret is the name of the MoSAPI login password for a TLD.
func PasswordSecret(tld string) string { return "mosapi_password_" + tld }

// TLSCertSecret is the name of the PEM client certificate for an environment.
func TLSCertSecret(env string) string {
	return "nomulus-dot-" + env + "_tls-client-dot-crt-dot-pem"
}

// TLSKeySecret is the name of the PEM client private key for an environment.
func TLSKeySecret(env string) string {
	return "nomulus-dot-" + env + "_tls-client-dot-key"
}

// VaultStore reads secrets from a Vault KV v2 mount. Each secret is a
// single-field document with the value under the key "value".
type VaultStore struct {
	kv *vault.KVv2
}

// NewVaultStore connects to Vault and verifies the token works.
func NewVaultStore(addr, token, mount string) (*VaultStore, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	client.SetToken(token)
	if _, err := client.Auth().Token().LookupSelf(); err != nil {
		return nil, fmt.Errorf("secrets: vault token lookup: %w", err)
	}
	return &VaultStore{kv: client.KVv2(mount)}, nil
}

func (s *VaultStore) Secret(ctx context.Context, name string) (string, error) {
	secret, err := s.kv.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("secrets: read %s from vault: %w", name, err)
	}
	value, ok := secret.Data["value"].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secrets: %s has no \"value\" field", name)
	}
	return value, nil
}

// EnvStore resolves secrets from environment variables. A secret name is
// mangled to its variable: uppercased with every non-alphanumeric rune
// replaced by underscore, e.g. mosapi_username_example ->
// MOSAPI_USERNAME_EXAMPLE.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore builds an EnvStore over the given lookup (os.LookupEnv in
// production, a map closure in tests).
func NewEnvStore(lookup func(string) (string, bool)) *EnvStore {
	return &EnvStore{lookup: lookup}
}

func (s *EnvStore) Secret(_ context.Context, name string) (string, error) {
	key := EnvVarName(name)
	value, ok := s.lookup(key)
	if !ok || value == "" {
		return "", fmt.Errorf("secrets: %s not set (env var %s)", name, key)
	}
	return value, nil
}

// EnvVarName mangles a secret name into its environment variable.
func EnvVarName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Static is a fixed map of secrets for tests.
type Static map[string]string

func (s Static) Secret(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secrets: %s not found", name)
	}
	return value, nil
}

// Credentials adapts a Store to the client's per-TLD credential lookup.
type Credentials struct {
	Store Store
}

func (c Credentials) Username(ctx context.Context, entityID string) (string, error) {
	return c.Store.Secret(ctx, UsernameSecret(entityID))
}

func (c Credentials) Password(ctx context.Context, entityID string) (string, error) {
	return c.Store.Secret(ctx, PasswordSecret(entityID))
}
