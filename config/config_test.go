package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/tokens"
)

func validSettings() *Settings {
	s := &Settings{
		Providers: []ProviderSettings{
			{ID: "ollama", Type: "local", BaseURL: "http://localhost:11434"},
		},
	}
	s.ApplyDefaults()
	return s
}

func TestSettingsApplyDefaults(t *testing.T) {
	s := &Settings{Providers: []ProviderSettings{{ID: "p", Type: "local"}}}
	s.ApplyDefaults()

	if s.Name != "llmgate" {
		t.Errorf("expected name 'llmgate', got %q", s.Name)
	}
	if s.Environment != "development" {
		t.Errorf("expected environment 'development', got %q", s.Environment)
	}
	if s.Logging.Level != "info" {
		t.Errorf("expected logging level 'info', got %q", s.Logging.Level)
	}
	if s.Telemetry.Endpoint != "localhost:4318" {
		t.Errorf("expected telemetry endpoint default, got %q", s.Telemetry.Endpoint)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid local", func(s *Settings) {}, ""},
		{"valid cloud", func(s *Settings) {
			s.Providers = []ProviderSettings{{
				ID: "primary", Type: "cloud",
				BaseURL: "https://api.example.com/v1", APIKeyEnv: "PRIMARY_KEY",
			}}
		}, ""},
		{"no providers", func(s *Settings) {
			s.Providers = nil
		}, "providers must be at least 1"},
		{"cloud without base url", func(s *Settings) {
			s.Providers = []ProviderSettings{{ID: "c", Type: "cloud", APIKeyEnv: "KEY"}}
		}, "base_url is required"},
		{"cloud without key env", func(s *Settings) {
			s.Providers = []ProviderSettings{{ID: "c", Type: "cloud", BaseURL: "https://api.example.com"}}
		}, "api_key_env is required"},
		{"cloud with bad url", func(s *Settings) {
			s.Providers = []ProviderSettings{{ID: "c", Type: "cloud", BaseURL: "not a url", APIKeyEnv: "KEY"}}
		}, "base_url must be a valid URL"},
		{"unknown provider type", func(s *Settings) {
			s.Providers[0].Type = "serverless"
		}, "type must be one of"},
		{"missing provider id", func(s *Settings) {
			s.Providers[0].ID = ""
		}, "id is required"},
		{"bad environment", func(s *Settings) {
			s.Environment = "prod"
		}, "environment must be one of"},
		{"bad rate limit", func(s *Settings) {
			s.Providers[0].RateLimit = &RateLimitSettings{Rate: -1}
		}, "rate must be greater than 0"},
		{"duplicate provider ids", func(s *Settings) {
			s.Providers = append(s.Providers, ProviderSettings{ID: "ollama", Type: "local"})
		}, "duplicate provider id"},
		{"bad logging level", func(s *Settings) {
			s.Logging.Level = "loud"
		}, "logging.level must be one of"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

const testYAML = `
name: llmgate
environment: production

logging:
  level: debug
  format: json

router:
  retry:
    max_attempts: 4
    initial_backoff: 50ms
  history_size: 128

providers:
  - id: primary
    type: cloud
    base_url: https://api.example.com/v1
    api_key_env: PRIMARY_API_KEY
    context_window: 128000
    timeout: 45s
    breaker:
      max_failures: 5
      cooldown: 30s
    rate_limit:
      rate: 10
      burst: 20
  - id: fallback
    type: local
    base_url: http://localhost:11434
    context_window: 8192
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, testYAML)

	s, err := Load("llmgate", WithConfigFile(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.Environment != "production" {
		t.Errorf("expected environment 'production', got %q", s.Environment)
	}
	if s.Logging.Level != "debug" {
		t.Errorf("expected logging level 'debug', got %q", s.Logging.Level)
	}
	if s.Router.Retry.MaxAttempts != 4 {
		t.Errorf("expected max attempts 4, got %d", s.Router.Retry.MaxAttempts)
	}
	if s.Router.Retry.InitialBackoff != 50*time.Millisecond {
		t.Errorf("expected initial backoff 50ms, got %v", s.Router.Retry.InitialBackoff)
	}
	if s.Router.HistorySize != 128 {
		t.Errorf("expected history size 128, got %d", s.Router.HistorySize)
	}

	if len(s.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(s.Providers))
	}
	p := s.Providers[0]
	if p.ID != "primary" || p.Type != "cloud" {
		t.Errorf("unexpected first provider: %+v", p)
	}
	if p.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", p.Timeout)
	}
	if p.Breaker == nil || p.Breaker.MaxFailures != 5 || p.Breaker.Cooldown != 30*time.Second {
		t.Errorf("unexpected breaker settings: %+v", p.Breaker)
	}
	if p.RateLimit == nil || p.RateLimit.Rate != 10 || p.RateLimit.Burst != 20 {
		t.Errorf("unexpected rate limit settings: %+v", p.RateLimit)
	}
	if s.Providers[1].Type != "local" {
		t.Errorf("expected second provider type 'local', got %q", s.Providers[1].Type)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, testYAML)
	t.Setenv("LLMGATE_ROUTER_RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("LLMGATE_LOGGING_LEVEL", "warn")

	s, err := Load("llmgate", WithConfigFile(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.Router.Retry.MaxAttempts != 6 {
		t.Errorf("expected env to override max attempts to 6, got %d", s.Router.Retry.MaxAttempts)
	}
	if s.Logging.Level != "warn" {
		t.Errorf("expected env to override logging level, got %q", s.Logging.Level)
	}
	if s.Router.HistorySize != 128 {
		t.Errorf("expected file value to survive for history size, got %d", s.Router.HistorySize)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeConfig(t, testYAML)
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("LLMGATE_LOGGING_FORMAT=text\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	defer os.Unsetenv("LLMGATE_LOGGING_FORMAT")

	s, err := Load("llmgate", WithConfigFile(path), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Logging.Format != "text" {
		t.Errorf("expected env file to set logging format 'text', got %q", s.Logging.Format)
	}
}

func TestLoadMissingFileFailsValidation(t *testing.T) {
	_, err := Load("llmgate", WithConfigFile("/nonexistent/config.yml"))
	if err == nil {
		t.Fatal("expected validation error with no providers configured")
	}
	if !strings.Contains(err.Error(), "providers") {
		t.Errorf("expected error naming providers, got %q", err.Error())
	}
}

func TestLoadBrokenYAML(t *testing.T) {
	path := writeConfig(t, "providers: [")

	_, err := Load("llmgate", WithConfigFile(path))
	if err == nil {
		t.Fatal("expected error for broken YAML")
	}
	if !strings.Contains(err.Error(), "read") {
		t.Errorf("expected read error, got %q", err.Error())
	}
}

func TestLoadIntoMissingFile(t *testing.T) {
	var s Settings
	// A missing file is skipped; the zero settings come back untouched.
	if err := LoadInto("llmgate", &s, WithConfigFile("/nonexistent/config.yml")); err != nil {
		t.Fatalf("expected LoadInto to succeed with missing file, got %v", err)
	}
	if len(s.Providers) != 0 {
		t.Errorf("expected empty providers, got %d", len(s.Providers))
	}
}

type mockFS struct {
	files map[string]string
}

func (m *mockFS) Exists(path string) bool { _, ok := m.files[path]; return ok }
func (m *mockFS) LoadEnv(path string) error {
	for _, line := range strings.Split(m.files[path], "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			os.Setenv(k, v)
		}
	}
	return nil
}

func TestResolveWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]string{
		"./cmd/my-svc/config.yml": "",
	}}
	got := findFirst(fs, configSearchPaths("my-svc"))
	if got != "./cmd/my-svc/config.yml" {
		t.Errorf("expected config file at ./cmd/my-svc/config.yml, got %q", got)
	}
}

func TestKeyVariants(t *testing.T) {
	tests := []struct {
		envKey string
		want   string
	}{
		{"ROUTER_RETRY_MAX_ATTEMPTS", "router.retry.max_attempts"},
		{"LOGGING_LEVEL", "logging.level"},
		{"ROUTER_HISTORY_SIZE", "router.history_size"},
		{"NAME", "name"},
	}
	for _, tc := range tests {
		variants := keyVariants(tc.envKey)
		found := false
		for _, v := range variants {
			if v == tc.want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected variants of %s to include %q, got %v", tc.envKey, tc.want, variants)
		}
	}
}

func TestWithFileSystemOption(t *testing.T) {
	var o loadOptions
	WithFileSystem(&mockFS{})(&o)
	if o.fs == nil {
		t.Error("expected filesystem to be set")
	}
}

func TestWithConfigFileOption(t *testing.T) {
	var o loadOptions
	WithConfigFile("/path/to/config.yml")(&o)
	if o.configFile != "/path/to/config.yml" {
		t.Errorf("expected config file path, got %q", o.configFile)
	}
}

func TestWithEnvFileOption(t *testing.T) {
	var o loadOptions
	WithEnvFile("/path/to/.env")(&o)
	if o.envFile != "/path/to/.env" {
		t.Errorf("expected env file path, got %q", o.envFile)
	}
}

func TestBuildLocalProvider(t *testing.T) {
	s := validSettings()

	r, cleanup, err := Build(context.Background(), s)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer cleanup(context.Background())

	got := r.Providers()
	if len(got) != 1 || got[0] != "ollama" {
		t.Errorf("expected providers [ollama], got %v", got)
	}
}

func TestBuildCloudMissingCredential(t *testing.T) {
	s := validSettings()
	s.Providers = []ProviderSettings{{
		ID: "primary", Type: "cloud",
		BaseURL: "https://api.example.com/v1", APIKeyEnv: "LLMGATE_TEST_ABSENT_KEY",
	}}
	os.Unsetenv("LLMGATE_TEST_ABSENT_KEY")

	_, _, err := Build(context.Background(), s)
	if err == nil {
		t.Fatal("expected error for missing credential")
	}
	if !strings.Contains(err.Error(), "credential env") {
		t.Errorf("expected credential error, got %q", err.Error())
	}
	if strings.Contains(err.Error(), "sk-") {
		t.Errorf("error must not carry key material, got %q", err.Error())
	}
}

func TestBuildCloudProvider(t *testing.T) {
	t.Setenv("LLMGATE_TEST_KEY", "sk-test-1234")
	s := validSettings()
	s.Providers = []ProviderSettings{{
		ID: "primary", Type: "cloud",
		BaseURL: "https://api.example.com/v1", APIKeyEnv: "LLMGATE_TEST_KEY",
		Breaker:   &BreakerSettings{MaxFailures: 2, Cooldown: 50 * time.Millisecond},
		RateLimit: &RateLimitSettings{Rate: 100, Burst: 10},
	}}

	r, cleanup, err := Build(context.Background(), s)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer cleanup(context.Background())

	got := r.Providers()
	if len(got) != 1 || got[0] != "primary" {
		t.Errorf("expected providers [primary], got %v", got)
	}
}

func TestBuildUnknownProviderType(t *testing.T) {
	s := validSettings()
	s.Providers[0].Type = "serverless"

	_, _, err := Build(context.Background(), s)
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
	if !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("expected unknown type error, got %q", err.Error())
	}
}

func TestBuildWithOptions(t *testing.T) {
	s := validSettings()
	acct := tokens.NewAccountant()
	log := logger.NewDefault("test")

	r, cleanup, err := Build(context.Background(), s, WithAccountant(acct), WithLogger(log))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer cleanup(context.Background())

	if r == nil {
		t.Fatal("expected non-nil router")
	}
}
