package configutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseYAML = `
twilio:
  account_sid: AC123
  auth_token: ${TEST_TWILIO_TOKEN}
  public_url: https://alina.example.com
deepgram:
  api_key: dg-key
elevenlabs:
  api_key: el-key
  voice_id: voice-1
openai:
  api_key: oa-key
backend:
  affiliate_list_url: https://backend.example.com/affiliates
  search_client_url: https://backend.example.com/search
  rider_profile_url: https://backend.example.com/profile
  fare_estimate_url: https://backend.example.com/fare
  book_trip_url: https://backend.example.com/book
  geocode_url: https://backend.example.com/geocode
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")
	cfg, err := LoadConfig(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Twilio.AuthToken != "secret-token" {
		t.Fatalf("env expansion failed, got %q", cfg.Twilio.AuthToken)
	}
	if cfg.Twilio.ServerAddr != ":8080" {
		t.Fatalf("expected default server addr, got %q", cfg.Twilio.ServerAddr)
	}
	if cfg.Deepgram.Model != "nova-3" {
		t.Fatalf("expected default deepgram model, got %q", cfg.Deepgram.Model)
	}
	if cfg.OpenAI.AgentModel != "gpt-4.1-mini" {
		t.Fatalf("expected default agent model, got %q", cfg.OpenAI.AgentModel)
	}
	if !cfg.Tools.SerializeByStream {
		t.Fatalf("expected tool serialization on by default")
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}

	// Integration sections left empty mean disabled, not invalid.
	if cfg.MongoEnabled() {
		t.Fatalf("mongo should be disabled")
	}
	if cfg.TransferEnabled() {
		t.Fatalf("transfer should be disabled")
	}
	if cfg.ContextTransferEnabled() {
		t.Fatalf("context transfer should be disabled")
	}
}

func TestLoadConfigRejectsUnknownTwilioKey(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")
	body := strings.Replace(baseYAML, "public_url:", "public_url_typo:\n    nested: x\n  public_url:", 1)
	_, err := LoadConfig(writeConfig(t, body))
	if err == nil {
		t.Fatalf("expected error for unknown twilio key")
	}
	if !strings.Contains(err.Error(), "public_url_typo") {
		t.Fatalf("expected offending key in error, got %v", err)
	}
}

func TestLoadConfigRequiresProviderKeys(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")
	body := strings.Replace(baseYAML, "api_key: dg-key", "api_key: \"\"", 1)
	_, err := LoadConfig(writeConfig(t, body))
	if err == nil {
		t.Fatalf("expected error for missing deepgram key")
	}
	if !strings.Contains(err.Error(), "deepgram.api_key") {
		t.Fatalf("expected deepgram.api_key in error, got %v", err)
	}
}

func TestLoadConfigEnablesIntegrations(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "secret-token")
	body := baseYAML + `
mongo:
  uri: mongodb://localhost:27017
  user_id: 64f000000000000000000001
transfer:
  asterisk_ip: 10.0.0.5
  context_transfer_url: https://dispatch.example.com/context
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.MongoEnabled() || !cfg.TransferEnabled() || !cfg.ContextTransferEnabled() {
		t.Fatalf("expected integrations enabled")
	}
	if cfg.Mongo.UserID != "64f000000000000000000001" {
		t.Fatalf("unexpected mongo user id %q", cfg.Mongo.UserID)
	}
}
