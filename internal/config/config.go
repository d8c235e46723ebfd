package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/voxbar/internal/engine"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/sampler"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	LLM     LLMConfig
	Ollama  OllamaConfig
	Improve ImproveConfig
	Logs    LogsConfig
	Notify  NotifyConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  string
	HTTP2    bool
}

type OllamaConfig struct {
	BaseURL string
}

type ImproveConfig struct {
	Enabled               bool
	Cooldown              string
	DictationThreshold    int
	MinInteractionAgeDays int
	MaxEntries            int
	MaxTotalChars         int
	MaxFieldChars         int
}

type LogsConfig struct {
	RetentionDays int
}

type NotifyConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider: engine.ProviderOpenAI,
			Timeout:  "60s",
			HTTP2:    true,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Improve: ImproveConfig{
			Enabled:               true,
			Cooldown:              "7",
			DictationThreshold:    20,
			MinInteractionAgeDays: 7,
			MaxEntries:            60,
			MaxTotalChars:         40000,
			MaxFieldChars:         sampler.DefaultMaxFieldChars,
		},
		Logs: LogsConfig{
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.voxbar.app) and the LLM
// API key falls back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/voxbar/config.json
// and secrets live in $XDG_DATA_HOME/voxbar/secrets.json.
//
// Environment variables (VOXBAR_*) override backend values on all platforms.
// A missing API key is not an error; improvement sweeps stay gated until
// one is configured.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get(keychainService, accountAPIKey); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = engine.DefaultModel(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	for _, s := range specs {
		if s.validate == nil {
			continue
		}
		if err := s.validate(fmt.Sprint(s.extract(c))); err != nil {
			return fmt.Errorf("invalid %s: %w", s.key, err)
		}
	}
	return nil
}

// TimeoutDuration is the parsed llm.timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Options converts the improve.* keys into scheduler options.
func (c ImproveConfig) Options() (improve.Options, error) {
	cd, err := improve.ParseCooldown(c.Cooldown)
	if err != nil {
		return improve.Options{}, err
	}
	opts := improve.DefaultOptions()
	opts.Enabled = c.Enabled
	opts.Cooldown = cd
	opts.DictationThreshold = c.DictationThreshold
	opts.MinInteractionAgeDays = c.MinInteractionAgeDays
	opts.Budget = sampler.Budget{MaxEntries: c.MaxEntries, MaxTotalChars: c.MaxTotalChars}
	return opts, nil
}

// APIKeyLookup returns a function that re-reads the LLM API key from the
// environment and then the secret store, so a key added while the daemon
// runs is picked up.
func APIKeyLookup(kc Keychain) func() (string, error) {
	return func() (string, error) {
		if v := strings.TrimSpace(os.Getenv(envAPIKey)); v != "" {
			return v, nil
		}
		return kc.Get(keychainService, accountAPIKey)
	}
}

func validProvider(v string) error {
	if !slices.Contains(engine.Providers(), v) {
		return fmt.Errorf("unknown provider %q (valid: %s)", v, strings.Join(engine.Providers(), ", "))
	}
	return nil
}

func validCooldown(v string) error {
	_, err := improve.ParseCooldown(v)
	return err
}

func validDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

func validLevel(v string) error {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", v)
}

func positive(v string) error {
	var n int
	if _, err := fmt.Sscan(v, &n); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func nonNegative(v string) error {
	var n int
	if _, err := fmt.Sscan(v, &n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}
