package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts file probing so resolution is testable.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

type osFS struct{}

func (osFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFS) LoadEnv(path string) error { return godotenv.Load(path) }

// Option adjusts how Load resolves and reads configuration.
type Option func(*loadOptions)

type loadOptions struct {
	fs         FileSystem
	configFile string
	envFile    string
}

// WithFileSystem sets a custom filesystem for resolution.
func WithFileSystem(fs FileSystem) Option {
	return func(o *loadOptions) { o.fs = fs }
}

// WithConfigFile sets an explicit config file path, skipping the search.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path, skipping the search.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// Load reads the settings for the named service: YAML file first, then a
// .env file, then SERVICE_-prefixed environment variables, each layer
// overriding the previous. The result is defaulted and validated.
func Load(service string, opts ...Option) (*Settings, error) {
	var s Settings
	if err := LoadInto(service, &s, opts...); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadInto reads layered configuration into cfg without defaulting or
// validating, for callers bringing their own settings type.
func LoadInto(service string, cfg any, opts ...Option) error {
	o := loadOptions{fs: osFS{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = osFS{}
	}

	configFile := o.configFile
	if configFile == "" {
		configFile = findFirst(o.fs, configSearchPaths(service))
	}
	envFile := o.envFile
	if envFile == "" {
		envFile = findFirst(o.fs, envSearchPaths(service))
	}

	v := viper.New()

	if configFile != "" && o.fs.Exists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	if envFile != "" && o.fs.Exists(envFile) {
		if err := o.fs.LoadEnv(envFile); err != nil {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	bindPrefixedEnv(v, strings.ToUpper(service)+"_")

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal for %s: %w", service, err)
	}
	return nil
}

func configSearchPaths(service string) []string {
	return []string{
		"./config.yml",
		"./config.yaml",
		"./config/config.yml",
		fmt.Sprintf("./cmd/%s/config.yml", service),
	}
}

func envSearchPaths(service string) []string {
	return []string{
		fmt.Sprintf("./.env.%s", service),
		"./.env",
		"./config/.env",
	}
}

func findFirst(fs FileSystem, paths []string) string {
	for _, p := range paths {
		if fs.Exists(p) {
			return p
		}
	}
	return ""
}

// bindPrefixedEnv copies prefixed environment variables into viper under
// every nested key they could address. Viper's AutomaticEnv does not reach
// struct unmarshalling for keys absent from the file, so the binding has
// to be explicit.
func bindPrefixedEnv(v *viper.Viper, prefix string) {
	for _, kv := range os.Environ() {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		for _, key := range keyVariants(strings.TrimPrefix(pair[0], prefix)) {
			v.Set(key, pair[1])
		}
	}
}

// keyVariants expands ROUTER_RETRY_MAX_ATTEMPTS into the nested keys it
// may address: router.retry.max_attempts, router.retry_max_attempts, and
// so on. Underscores are ambiguous between nesting and snake_case field
// names, so every split point is tried.
func keyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	variants := []string{lower, strings.ReplaceAll(lower, "_", ".")}
	for i := 1; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"))
	}
	return dedupe(variants)
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
