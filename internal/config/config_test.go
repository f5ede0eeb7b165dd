package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrent_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=0")
	}
}

func TestValidate_MaxConcurrent_TooHigh(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentMessages = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=999")
	}
}

func TestValidate_CollaboratorTimeout_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.General.CollaboratorTimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("collaboratorTimeoutSeconds=1 should be valid: %v", err)
	}

	cfg.General.CollaboratorTimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("collaboratorTimeoutSeconds=300 should be valid: %v", err)
	}

	cfg.General.CollaboratorTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for collaboratorTimeoutSeconds=0")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.WhatsApp.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidSessionBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Backend = "invalid"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid session backend")
	}
}

func TestValidate_RedisBackendRequiresAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis backend without addr")
	}

	cfg.Session.RedisAddr = "localhost:6379"
	if err := Validate(cfg); err != nil {
		t.Fatalf("redis backend with addr should be valid: %v", err)
	}
}

func TestValidate_WhatsAppEnabledRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled whatsapp without credentials")
	}

	cfg.Channels.WhatsApp.AccountSID = "AC123"
	cfg.Channels.WhatsApp.AuthToken = "token"
	if err := Validate(cfg); err != nil {
		t.Fatalf("whatsapp with credentials should be valid: %v", err)
	}
}

func TestValidate_ChunkOverlapMustBeSmallerThanChunkSize(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.ChunkSize = 50
	cfg.Knowledge.ChunkOverlap = 50
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for chunkOverlap >= chunkSize")
	}
}

func TestValidate_EmptyUploadExtensions(t *testing.T) {
	cfg := Defaults()
	cfg.Uploads.AllowedExtensions = nil
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty allowedExtensions")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Provider.Model = "test-model"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Provider.Model != "test-model" {
		t.Fatalf("expected 'test-model', got %q", loaded.Provider.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	// Invalid: maxConcurrentMessages=0
	content := `{
		"general": {
			"maxConcurrentMessages": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxConcurrentMessages=0")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "session.backend")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "memory" {
		t.Fatalf("expected 'memory', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "provider.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Fatalf("expected 'gpt-4o', got %q", cfg.Provider.Model)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.whatsapp.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Channels.WhatsApp.Enabled {
		t.Fatal("expected channels.whatsapp.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "session.idleMinutes", "45"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Session.IdleMinutes != 45 {
		t.Fatalf("expected 45, got %d", cfg.Session.IdleMinutes)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Provider.APIKey = "sk-1234567890abcdefghijklmnop"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Provider.APIKey == cfg.Provider.APIKey {
		t.Fatal("API key should be masked")
	}
	// Verify original is untouched
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

func TestSanitize_MasksWhatsAppAuthToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.AuthToken = "twilio-auth-token-12345678"
	sanitized := Sanitize(cfg)

	if sanitized.Channels.WhatsApp.AuthToken == cfg.Channels.WhatsApp.AuthToken {
		t.Fatal("WhatsApp authToken should be masked")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"general.logLevel", "store.dbPath", "session.idleMinutes"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_DB", "/tmp/test-bot.db")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"store": {
			"dbPath": "${TEST_BOT_DB}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.DBPath != "/tmp/test-bot.db" {
		t.Fatalf("expected dbPath '/tmp/test-bot.db', got %q", cfg.Store.DBPath)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Store.DBPath == "" {
		t.Fatal("dbPath should not be empty")
	}
	if cfg.Session.IdleMinutes != 30 {
		t.Fatalf("default idleMinutes should be 30, got %d", cfg.Session.IdleMinutes)
	}
}
