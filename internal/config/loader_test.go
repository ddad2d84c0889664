package config

import (
	"strings"
	"testing"
)

const fullConfig = `
server:
  listen_addr: ":9090"
  log_level: debug
  public_base_url: https://fabelwerk.example.com
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  tts:
    name: elevenlabs
    api_key: el-test
  image:
    name: openai
    api_key: sk-test
storage:
  postgres_dsn: postgres://localhost/fabelwerk
  media_dir: /var/lib/fabelwerk/media
audio:
  gap_ms: 300
  fade_in_ms: 250
voices:
  catalog_path: /etc/fabelwerk/voices.yaml
`

func TestLoadFromReader(t *testing.T) {
	t.Run("full config round-trips", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(fullConfig))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != LogDebug {
			t.Fatalf("server = %+v", cfg.Server)
		}
		if cfg.Providers.TTS.Name != "elevenlabs" || cfg.Providers.TTS.APIKey != "el-test" {
			t.Fatalf("tts = %+v", cfg.Providers.TTS)
		}
		if cfg.Audio.GapMS != 300 {
			t.Fatalf("gap_ms = %d", cfg.Audio.GapMS)
		}
		if cfg.Voices.CatalogPath != "/etc/fabelwerk/voices.yaml" {
			t.Fatalf("catalog_path = %q", cfg.Voices.CatalogPath)
		}
	})

	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(""))
		if err != nil {
			t.Fatalf("load empty: %v", err)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Fatalf("listen_addr default = %q", cfg.Server.ListenAddr)
		}
		if cfg.Server.LogLevel != LogInfo {
			t.Fatalf("log_level default = %q", cfg.Server.LogLevel)
		}
		if cfg.Storage.MediaDir != "media" {
			t.Fatalf("media_dir default = %q", cfg.Storage.MediaDir)
		}
		if cfg.Audio.GapMS != 400 || cfg.Audio.FadeInMS != 500 {
			t.Fatalf("audio defaults = %+v", cfg.Audio)
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader("server:\n  listen_adress: ':8080'\n"))
		if err == nil {
			t.Fatal("want error for misspelled field")
		}
	})

	t.Run("invalid log level is rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader("server:\n  log_level: verbose\n"))
		if err == nil || !strings.Contains(err.Error(), "log_level") {
			t.Fatalf("want log_level error, got %v", err)
		}
	})

	t.Run("out of range gap is rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader("audio:\n  gap_ms: 60000\n"))
		if err == nil || !strings.Contains(err.Error(), "gap_ms") {
			t.Fatalf("want gap_ms error, got %v", err)
		}
	})

	t.Run("api key falls back to the environment", func(t *testing.T) {
		t.Setenv("ELEVENLABS_API_KEY", "el-from-env")
		cfg, err := LoadFromReader(strings.NewReader("providers:\n  tts:\n    name: elevenlabs\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.TTS.APIKey != "el-from-env" {
			t.Fatalf("api key = %q", cfg.Providers.TTS.APIKey)
		}
	})

	t.Run("configured api key wins over the environment", func(t *testing.T) {
		t.Setenv("ELEVENLABS_API_KEY", "el-from-env")
		cfg, err := LoadFromReader(strings.NewReader("providers:\n  tts:\n    name: elevenlabs\n    api_key: el-explicit\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.TTS.APIKey != "el-explicit" {
			t.Fatalf("api key = %q", cfg.Providers.TTS.APIKey)
		}
	})
}
