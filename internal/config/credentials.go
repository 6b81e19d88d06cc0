package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Credentials holds the exchange API key pair. The secret is kept as bytes so it can be wiped.
type Credentials struct {
	APIKey string
	Secret []byte
}

// LoadCredentials reads the API key pair from the environment variables named in ex.
// A .env file in the working directory is loaded first when present.
func LoadCredentials(ex Exchange) (Credentials, error) {
	_ = godotenv.Load() // best-effort
	key := strings.TrimSpace(os.Getenv(ex.APIKeyEnv))
	secret := strings.TrimSpace(os.Getenv(ex.APISecretEnv))
	if key == "" {
		return Credentials{}, fmt.Errorf("%s not set", ex.APIKeyEnv)
	}
	if secret == "" {
		return Credentials{}, fmt.Errorf("%s not set", ex.APISecretEnv)
	}
	return Credentials{APIKey: key, Secret: []byte(secret)}, nil
}

// Wipe zeroes the secret in memory.
func (c *Credentials) Wipe() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
	c.Secret = nil
}

// String never prints the secret and only a prefix of the key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%s Secret:<redacted>}", maskKey(c.APIKey))
}

// MarshalZerologObject keeps credentials out of structured logs.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("api_key", maskKey(c.APIKey)).Bool("secret_set", len(c.Secret) > 0)
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
