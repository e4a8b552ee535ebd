// Package keyring holds the exchange API credential and loads it from
// configuration, the process environment or a .env file.
package keyring

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"krakensync/pkg/core"
)

// Environment variables consulted by FromEnv.
const (
	EnvAPIKey    = "KRAKEN_FUTURES__API_KEY"
	EnvAPISecret = "KRAKEN_FUTURES__API_SECRET"
)

// Credential is an API key and its decoded secret. It is immutable once built.
type Credential struct {
	key    string
	secret []byte
}

// New builds a Credential from a key and a base64-encoded secret.
func New(key, secret string) (*Credential, error) {
	if key == "" {
		return nil, core.NewConfigError("api key must be provided", core.ErrNoCredentials)
	}
	if secret == "" {
		return nil, core.NewConfigError("api secret must be provided", core.ErrNoCredentials)
	}
	decoded, err := decodeSecret(secret)
	if err != nil {
		return nil, core.NewConfigError("api secret is not valid base64", err)
	}
	return &Credential{key: key, secret: decoded}, nil
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err == nil {
		return decoded, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(secret, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// Key returns the public API key.
func (c *Credential) Key() string {
	return c.key
}

// Secret returns a copy of the decoded secret.
func (c *Credential) Secret() []byte {
	out := make([]byte, len(c.secret))
	copy(out, c.secret)
	return out
}

func (c *Credential) String() string {
	return fmt.Sprintf("Credential{Key:%s}", maskKey(c.key))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// FromConfig returns the credential configured in creds, or nil when no key
// and no secret are set. A half-configured pair is an error.
func FromConfig(creds *core.Credentials) (*Credential, error) {
	if creds == nil || (creds.APIKey == "" && creds.SecretKey == "") {
		return nil, nil
	}
	return New(creds.APIKey, creds.SecretKey)
}

// FromEnv loads .env files (missing ones are ignored) and overlays the
// environment credentials on top of creds. The result may be nil.
func FromEnv(creds *core.Credentials, files ...string) (*core.Credentials, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	key := os.Getenv(EnvAPIKey)
	secret := os.Getenv(EnvAPISecret)
	if key == "" && secret == "" {
		return creds, nil
	}

	out := &core.Credentials{}
	if creds != nil {
		*out = *creds
	}
	if key != "" {
		out.APIKey = key
	}
	if secret != "" {
		out.SecretKey = secret
	}
	return out, nil
}
