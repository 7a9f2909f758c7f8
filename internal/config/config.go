// Package config loads claude-line settings from defaults, an optional .env
// file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transcription providers.
const (
	ProviderGroq     = "groq"
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
)

// Cleanup providers.
const (
	CleanupAnthropic = "anthropic"
	CleanupOpenAI    = "openai"
)

const (
	groqAPIBaseURL   = "https://api.groq.com/openai/v1/"
	openAIAPIBaseURL = "https://api.openai.com/v1/"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

// Settings holds every runtime option.
type Settings struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`

	TranscriptionProvider string `mapstructure:"transcription_provider"`
	GroqAPIKey            string `mapstructure:"groq_api_key"`
	OpenAIAPIKey          string `mapstructure:"openai_api_key"`
	DeepgramAPIKey        string `mapstructure:"deepgram_api_key"`
	WhisperModel          string `mapstructure:"whisper_model"`
	DeepgramModel         string `mapstructure:"deepgram_model"`

	ClaudeWorkDir string        `mapstructure:"claude_work_dir"`
	ClaudeCommand string        `mapstructure:"claude_command"`
	ClaudeArgs    string        `mapstructure:"claude_args"` // whitespace separated
	CancelGrace   time.Duration `mapstructure:"cancel_grace"`

	SSLCertFile string `mapstructure:"ssl_certfile"`
	SSLKeyFile  string `mapstructure:"ssl_keyfile"`

	CleanupEnabled  bool   `mapstructure:"cleanup_enabled"`
	CleanupProvider string `mapstructure:"cleanup_provider"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	CleanupModel    string `mapstructure:"cleanup_model"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Tracing TracingSettings `mapstructure:"tracing"`
}

// TracingSettings configures OpenTelemetry export.
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // "stdout", "otlp" or "none"
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	return Settings{
		Host:                  "0.0.0.0",
		Port:                  8765,
		StaticDir:             "./static",
		TranscriptionProvider: ProviderGroq,
		WhisperModel:          "whisper-large-v3-turbo",
		DeepgramModel:         "nova-2",
		ClaudeWorkDir:         ".",
		ClaudeCommand:         "claude",
		CancelGrace:           500 * time.Millisecond,
		CleanupProvider:       CleanupAnthropic,
		CleanupModel:          "claude-sonnet-4-20250514",
		LogLevel:              "info",
		LogFormat:             "text",
		Tracing: TracingSettings{
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// SetDefaults registers every key with v so environment variables and .env
// entries are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("static_dir", d.StaticDir)
	v.SetDefault("transcription_provider", d.TranscriptionProvider)
	v.SetDefault("groq_api_key", d.GroqAPIKey)
	v.SetDefault("openai_api_key", d.OpenAIAPIKey)
	v.SetDefault("deepgram_api_key", d.DeepgramAPIKey)
	v.SetDefault("whisper_model", d.WhisperModel)
	v.SetDefault("deepgram_model", d.DeepgramModel)
	v.SetDefault("claude_work_dir", d.ClaudeWorkDir)
	v.SetDefault("claude_command", d.ClaudeCommand)
	v.SetDefault("claude_args", d.ClaudeArgs)
	v.SetDefault("cancel_grace", d.CancelGrace)
	v.SetDefault("ssl_certfile", d.SSLCertFile)
	v.SetDefault("ssl_keyfile", d.SSLKeyFile)
	v.SetDefault("cleanup_enabled", d.CleanupEnabled)
	v.SetDefault("cleanup_provider", d.CleanupProvider)
	v.SetDefault("anthropic_api_key", d.AnthropicAPIKey)
	v.SetDefault("cleanup_model", d.CleanupModel)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// Load reads settings into a Settings value. envFile names a dotenv file; an
// empty name means DefaultEnvFile, which may be absent. A file named
// explicitly must exist.
func Load(v *viper.Viper, envFile string) (Settings, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("env file: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the server cannot start with.
func (s Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	switch s.TranscriptionProvider {
	case ProviderGroq, ProviderOpenAI, ProviderDeepgram:
	default:
		return fmt.Errorf("unknown transcription provider %q (want groq, openai or deepgram)", s.TranscriptionProvider)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", s.LogFormat)
	}
	if s.CancelGrace <= 0 {
		return fmt.Errorf("cancel_grace must be positive, got %s", s.CancelGrace)
	}
	return nil
}

// SSLEnabled reports whether both a certificate and a key are configured.
func (s Settings) SSLEnabled() bool {
	return s.SSLCertFile != "" && s.SSLKeyFile != ""
}

// TranscriptionAPIKey returns the key for the selected provider.
func (s Settings) TranscriptionAPIKey() string {
	switch s.TranscriptionProvider {
	case ProviderGroq:
		return s.GroqAPIKey
	case ProviderDeepgram:
		return s.DeepgramAPIKey
	default:
		return s.OpenAIAPIKey
	}
}

// TranscriptionKeyEnv names the environment variable holding the key for the
// selected provider.
func (s Settings) TranscriptionKeyEnv() string {
	switch s.TranscriptionProvider {
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderDeepgram:
		return "DEEPGRAM_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// TranscriptionBaseURL returns the root of the OpenAI-compatible API that
// serves Whisper transcriptions. Deepgram has its own SDK and needs none.
func (s Settings) TranscriptionBaseURL() string {
	switch s.TranscriptionProvider {
	case ProviderGroq:
		return groqAPIBaseURL
	case ProviderDeepgram:
		return ""
	default:
		return openAIAPIBaseURL
	}
}

// ExtraClaudeArgs splits ClaudeArgs on whitespace.
func (s Settings) ExtraClaudeArgs() []string {
	return strings.Fields(s.ClaudeArgs)
}

// Scheme is "https" when TLS is configured, "http" otherwise.
func (s Settings) Scheme() string {
	if s.SSLEnabled() {
		return "https"
	}
	return "http"
}
