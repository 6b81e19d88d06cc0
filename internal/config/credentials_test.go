package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv("QT_TEST_KEY", "abcd1234efgh")
	t.Setenv("QT_TEST_SECRET", "topsecret")

	creds, err := LoadCredentials(Exchange{APIKeyEnv: "QT_TEST_KEY", APISecretEnv: "QT_TEST_SECRET"})
	if err != nil {
		t.Fatalf("expected credentials, got error: %v", err)
	}
	if creds.APIKey != "abcd1234efgh" || string(creds.Secret) != "topsecret" {
		t.Fatalf("unexpected credentials loaded")
	}
}

func TestLoadCredentialsMissing(t *testing.T) {
	t.Setenv("QT_TEST_KEY", "abcd1234efgh")
	t.Setenv("QT_TEST_SECRET", "")
	if _, err := LoadCredentials(Exchange{APIKeyEnv: "QT_TEST_KEY", APISecretEnv: "QT_TEST_SECRET"}); err == nil {
		t.Fatalf("expected error when secret missing")
	}
}

func TestCredentialsNeverPrintSecret(t *testing.T) {
	creds := Credentials{APIKey: "abcd1234efgh", Secret: []byte("topsecret")}

	if strings.Contains(creds.String(), "topsecret") || strings.Contains(creds.String(), "1234efgh") {
		t.Fatalf("String leaked credentials: %s", creds.String())
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("creds", creds).Msg("loaded")
	if strings.Contains(buf.String(), "topsecret") {
		t.Fatalf("log leaked secret: %s", buf.String())
	}

	creds.Wipe()
	if creds.Secret != nil {
		t.Fatalf("expected secret wiped")
	}
}
