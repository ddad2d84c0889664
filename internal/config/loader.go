package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"elevenlabs"},
	"image": {"openai"},
}

// envFallbacks maps a provider name to the environment variable consulted
// when no API key is configured.
var envFallbacks = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment fallbacks, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvFallbacks(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the values a mostly empty config should run with.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.MediaDir == "" {
		cfg.Storage.MediaDir = "media"
	}
	if cfg.Audio.GapMS == 0 {
		cfg.Audio.GapMS = 400
	}
	if cfg.Audio.FadeInMS == 0 {
		cfg.Audio.FadeInMS = 500
	}
}

// applyEnvFallbacks fills empty API keys from the conventional environment
// variables so keys can stay out of config files.
func applyEnvFallbacks(cfg *Config) {
	for _, entry := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.TTS, &cfg.Providers.Image} {
		if entry.Name == "" || entry.APIKey != "" {
			continue
		}
		if env, ok := envFallbacks[entry.Name]; ok {
			entry.APIKey = os.Getenv(env)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("image", cfg.Providers.Image.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; script generation will fail")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; audio generation will fail")
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.APIKey == "" {
		slog.Warn("TTS provider has no API key; set it in the config or the environment",
			"provider", cfg.Providers.TTS.Name)
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; drafts and stories will not survive a restart")
	}

	if cfg.Audio.GapMS < 0 || cfg.Audio.GapMS > 5000 {
		errs = append(errs, fmt.Errorf("audio.gap_ms %d is out of range [0, 5000]", cfg.Audio.GapMS))
	}
	if cfg.Audio.FadeInMS < 0 || cfg.Audio.FadeInMS > 5000 {
		errs = append(errs, fmt.Errorf("audio.fade_in_ms %d is out of range [0, 5000]", cfg.Audio.FadeInMS))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
