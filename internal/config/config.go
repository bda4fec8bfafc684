// Package config provides the configuration structure for the voice-roaster service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/book-expert/voice-roaster/internal/tts/audio"
)

// APIKeyEnv names the environment variable consulted when provider.api_key is empty.
const APIKeyEnv = "ELEVENLABS_API_KEY"

// Store backends.
const (
	StoreBackendFile = "file"
	StoreBackendNATS = "nats"
)

const (
	defaultCommandSubject     = "roast.commands"
	defaultDeliverySubject    = "chat.voice.deliver"
	defaultAdminSubject       = "chat.admin.check"
	defaultAudioBucket        = "ROAST_AUDIO"
	defaultStateBucket        = "ROAST_STATE"
	defaultRequestTimeout     = 15
	defaultHandleTimeout      = 90
	defaultMaxInFlight        = 16
	defaultRateLimitSeconds   = 300
	defaultCommitRetrySeconds = 10
	defaultContentDir         = "roasts"
	defaultDBPath             = "data/db.json"
	defaultProviderURL        = "https://api.elevenlabs.io"
	defaultProviderTimeout    = 30
	defaultTranscodeTimeout   = 20
	defaultLogsDir            = "logs"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingAPIKey indicates neither provider.api_key nor ELEVENLABS_API_KEY is set.
	ErrMissingAPIKey = errors.New("provider API key is required")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	CommandSubject         string `toml:"command_subject"`
	DeliverySubject        string `toml:"delivery_subject"`
	AdminSubject           string `toml:"admin_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	StateBucket            string `toml:"state_bucket"`
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`
	HandleTimeoutSeconds   int    `toml:"handle_timeout_seconds"`
	MaxInFlight            int    `toml:"max_in_flight"`
}

// RoastConfig holds the workflow settings.
type RoastConfig struct {
	RateLimitSeconds   int    `toml:"rate_limit_seconds"`
	LogRetention       int    `toml:"log_retention"`
	ContentDir         string `toml:"content_dir"`
	StoreBackend       string `toml:"store_backend"`
	DBPath             string `toml:"db_path"`
	CommitRetrySeconds int    `toml:"commit_retry_seconds"`
}

// ProviderConfig holds the text-to-speech provider settings. Voices maps a
// voice mode to a provider voice id; unmapped modes use DefaultVoiceID.
type ProviderConfig struct {
	BaseURL         string            `toml:"base_url"`
	APIKey          string            `toml:"api_key"`
	ModelID         string            `toml:"model_id"`
	DefaultVoiceID  string            `toml:"default_voice_id"`
	Voices          map[string]string `toml:"voices"`
	TimeoutSeconds  int               `toml:"timeout_seconds"`
	Stability       float64           `toml:"stability"`
	SimilarityBoost float64           `toml:"similarity_boost"`
}

// TranscodeConfig holds the ffmpeg settings for the delivery target.
type TranscodeConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	Format         string `toml:"format"`
	Codec          string `toml:"codec"`
	Bitrate        string `toml:"bitrate"`
	SampleRate     int    `toml:"sample_rate"`
	Channels       int    `toml:"channels"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	TempDir     string `toml:"temp_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Roast     RoastConfig     `toml:"roast"`
	Provider  ProviderConfig  `toml:"provider"`
	Transcode TranscodeConfig `toml:"transcode"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads and validates the configuration for the voice-roaster service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// Validate fills defaults for omitted values and rejects invalid ones.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required", ErrInvalidConfig)
	}

	switch c.Roast.StoreBackend {
	case StoreBackendFile, StoreBackendNATS:
	default:
		return fmt.Errorf("%w: roast.store_backend must be %q or %q, got %q",
			ErrInvalidConfig, StoreBackendFile, StoreBackendNATS, c.Roast.StoreBackend)
	}

	if c.NATS.MaxInFlight < 0 {
		return fmt.Errorf("%w: nats.max_in_flight must not be negative", ErrInvalidConfig)
	}

	if c.Roast.RateLimitSeconds < 0 || c.Roast.LogRetention < 0 {
		return fmt.Errorf("%w: roast.rate_limit_seconds and roast.log_retention must not be negative", ErrInvalidConfig)
	}

	seen := make(map[state.VoiceMode]string, len(c.Provider.Voices))
	for key := range c.Provider.Voices {
		mode, parseErr := state.ParseVoiceMode(key)
		if parseErr != nil || mode == "" {
			return fmt.Errorf("%w: provider.voices: %w %q", ErrInvalidConfig, state.ErrInvalidVoiceMode, key)
		}

		if previous, ok := seen[mode]; ok {
			return fmt.Errorf("%w: provider.voices: %q and %q name the same mode", ErrInvalidConfig, previous, key)
		}

		seen[mode] = key
	}

	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv(APIKeyEnv)
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("%w: %w (set provider.api_key or %s)", ErrInvalidConfig, ErrMissingAPIKey, APIKeyEnv)
	}

	targetErr := c.Target().Validate()
	if targetErr != nil {
		return fmt.Errorf("%w: transcode: %w", ErrInvalidConfig, targetErr)
	}

	return nil
}

// Target returns the transcode section as an audio target.
func (c *Config) Target() audio.Target {
	return audio.Target{
		Format:     audio.Format(c.Transcode.Format),
		Codec:      c.Transcode.Codec,
		Bitrate:    c.Transcode.Bitrate,
		SampleRate: c.Transcode.SampleRate,
		Channels:   c.Transcode.Channels,
	}
}

// VoiceMap returns the configured mode to voice id table. Keys are matched
// case-insensitively.
func (c *Config) VoiceMap() map[state.VoiceMode]string {
	voices := make(map[state.VoiceMode]string, len(c.Provider.Voices))
	for key, voiceID := range c.Provider.Voices {
		mode, err := state.ParseVoiceMode(key)
		if err == nil && mode != "" {
			voices[mode] = voiceID
		}
	}

	return voices
}

// RateLimit returns roast.rate_limit_seconds as a duration.
func (c *Config) RateLimit() time.Duration {
	return seconds(c.Roast.RateLimitSeconds)
}

// CommitTimeout returns roast.commit_retry_seconds as a duration.
func (c *Config) CommitTimeout() time.Duration {
	return seconds(c.Roast.CommitRetrySeconds)
}

// RequestTimeout returns nats.request_timeout_seconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.NATS.RequestTimeoutSeconds)
}

// HandleTimeout returns nats.handle_timeout_seconds as a duration.
func (c *Config) HandleTimeout() time.Duration {
	return seconds(c.NATS.HandleTimeoutSeconds)
}

// ProviderTimeout returns provider.timeout_seconds as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return seconds(c.Provider.TimeoutSeconds)
}

// TranscodeTimeout returns transcode.timeout_seconds as a duration.
func (c *Config) TranscodeTimeout() time.Duration {
	return seconds(c.Transcode.TimeoutSeconds)
}

func (c *Config) applyDefaults() {
	defaultString(&c.NATS.CommandSubject, defaultCommandSubject)
	defaultString(&c.NATS.DeliverySubject, defaultDeliverySubject)
	defaultString(&c.NATS.AdminSubject, defaultAdminSubject)
	defaultString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)
	defaultString(&c.NATS.StateBucket, defaultStateBucket)
	defaultInt(&c.NATS.RequestTimeoutSeconds, defaultRequestTimeout)
	defaultInt(&c.NATS.HandleTimeoutSeconds, defaultHandleTimeout)
	defaultInt(&c.NATS.MaxInFlight, defaultMaxInFlight)

	defaultInt(&c.Roast.RateLimitSeconds, defaultRateLimitSeconds)
	defaultInt(&c.Roast.LogRetention, state.DefaultLogRetention)
	defaultInt(&c.Roast.CommitRetrySeconds, defaultCommitRetrySeconds)
	defaultString(&c.Roast.ContentDir, defaultContentDir)
	defaultString(&c.Roast.StoreBackend, StoreBackendFile)
	defaultString(&c.Roast.DBPath, defaultDBPath)

	defaultString(&c.Provider.BaseURL, defaultProviderURL)
	defaultInt(&c.Provider.TimeoutSeconds, defaultProviderTimeout)

	defaults := audio.NewDefaultTarget()
	defaultString(&c.Transcode.Format, string(defaults.Format))
	defaultString(&c.Transcode.Codec, defaults.Codec)
	defaultString(&c.Transcode.Bitrate, defaults.Bitrate)
	defaultInt(&c.Transcode.SampleRate, defaults.SampleRate)
	defaultInt(&c.Transcode.Channels, defaults.Channels)
	defaultInt(&c.Transcode.TimeoutSeconds, defaultTranscodeTimeout)

	defaultString(&c.Paths.BaseLogsDir, defaultLogsDir)
	defaultString(&c.Paths.TempDir, filepath.Join(os.TempDir(), "voice-roaster"))
}

func defaultString(value *string, fallback string) {
	if *value == "" {
		*value = fallback
	}
}

func defaultInt(value *int, fallback int) {
	if *value == 0 {
		*value = fallback
	}
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
