// Package config provides the configuration schema and loader for the
// Fabelwerk server.
package config

// LogLevel controls log verbosity for the Fabelwerk server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Fabelwerk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Audio     AudioConfig     `yaml:"audio"`
	Voices    VoicesConfig    `yaml:"voices"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicBaseURL is the externally reachable base URL used when rendering
	// media links (e.g., "https://fabelwerk.example.com"). Empty means links
	// are rendered relative.
	PublicBaseURL string `yaml:"public_base_url"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage.
type ProvidersConfig struct {
	// LLM generates the story script.
	LLM ProviderEntry `yaml:"llm"`

	// TTS voices the script lines.
	TTS ProviderEntry `yaml:"tts"`

	// Image generates the cover art. Optional; stories work without covers.
	Image ProviderEntry `yaml:"image"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty,
	// the loader falls back to the provider's conventional environment
	// variable (OPENAI_API_KEY, ELEVENLABS_API_KEY, ...).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "eleven_multilingual_v2").
	Model string `yaml:"model"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// PostgresDSN is the database connection string. Empty means the server
	// runs on an in-memory store and loses drafts and stories on restart.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MediaDir is where audio clips, story files, and covers are written.
	MediaDir string `yaml:"media_dir"`
}

// AudioConfig holds the audio post-processing knobs.
type AudioConfig struct {
	// FFmpegPath overrides the ffmpeg binary. Default: "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// GapMS is the silence between lines in milliseconds.
	GapMS int `yaml:"gap_ms"`

	// FadeInMS is the opening fade of the final file in milliseconds.
	FadeInMS int `yaml:"fade_in_ms"`

	// DisableNormalization skips per-clip loudness normalization.
	DisableNormalization bool `yaml:"disable_normalization"`
}

// VoicesConfig points at the voice catalog.
type VoicesConfig struct {
	// CatalogPath is a YAML file describing the voice inventory and trait
	// rules. Empty means the built-in catalog.
	CatalogPath string `yaml:"catalog_path"`
}
