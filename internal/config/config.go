// Package config handles loading and validating the serenity configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration shared by the serenity daemon and serenityctl.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Speechify  SpeechifyConfig  `mapstructure:"speechify"`
	Mixer      MixerConfig      `mapstructure:"mixer"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Events     EventsConfig     `mapstructure:"events"`
	Client     ClientConfig     `mapstructure:"client"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC health transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the REST API transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	// Disabled accepts any non-empty bearer token. Local development only.
	Disabled        bool   `mapstructure:"disabled"`
	CredentialsFile string `mapstructure:"credentials_file"` // Firebase service-account JSON
	ProjectID       string `mapstructure:"project_id"`
}

// SpeechifyConfig holds Speechify TTS API settings.
type SpeechifyConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	AudioFormat    string `mapstructure:"audio_format"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MixerConfig holds the ffmpeg location and the speech/ambiance mixing policy.
type MixerConfig struct {
	FFmpegPath         string  `mapstructure:"ffmpeg_path"`
	SpeechGain         float64 `mapstructure:"speech_gain"`
	SpeechTempo        float64 `mapstructure:"speech_tempo"`
	AmbianceGain       float64 `mapstructure:"ambiance_gain"`
	AmbianceSampleRate int     `mapstructure:"ambiance_sample_rate"`
	SampleRate         int     `mapstructure:"sample_rate"`
	Bitrate            string  `mapstructure:"bitrate"`
	Channels           int     `mapstructure:"channels"`
	DropoutTransition  int     `mapstructure:"dropout_transition"` // seconds
}

// PathsConfig locates the script catalog and the sound directories.
type PathsConfig struct {
	Catalog     string `mapstructure:"catalog"`
	Ambiances   string `mapstructure:"ambiances"`
	Voices      string `mapstructure:"voices"`
	Meditations string `mapstructure:"meditations"`
}

// EventsConfig configures the optional NATS event publisher.
type EventsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ClientConfig holds serenityctl settings.
type ClientConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	FirebaseAPIKey string `mapstructure:"firebase_api_key"`
	StateDir       string `mapstructure:"state_dir"`     // session token lives here
	DocumentsDir   string `mapstructure:"documents_dir"` // downloaded meditations live here
	FFPlayPath     string `mapstructure:"ffplay_path"`
	FFProbePath    string `mapstructure:"ffprobe_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from .env, file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./serenity.yaml, ./configs/serenity.yaml, /etc/serenity/serenity.yaml.
func Load(configFile string) (*Config, error) {
	// .env values never override variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("serenity")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/serenity")
	}

	// Environment variables: SERENITY_TRANSPORTS_HTTP_PORT, SERENITY_PATHS_CATALOG, etc.
	v.SetEnvPrefix("SERENITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables used by the deployment.
	_ = v.BindEnv("mixer.ffmpeg_path", "SERENITY_MIXER_FFMPEG_PATH", "FFMPEG_PATH")
	_ = v.BindEnv("speechify.api_key", "SERENITY_SPEECHIFY_API_KEY", "SPEECHIFY_API_KEY")
	_ = v.BindEnv("auth.credentials_file", "SERENITY_AUTH_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("client.firebase_api_key", "SERENITY_CLIENT_FIREBASE_API_KEY", "FIREBASE_API_KEY")

	// Read config file (optional, env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${SPEECHIFY_API_KEY}")
	cfg.Speechify.APIKey = resolveEnvRef(cfg.Speechify.APIKey)
	cfg.Auth.CredentialsFile = resolveEnvRef(cfg.Auth.CredentialsFile)
	cfg.Client.FirebaseAPIKey = resolveEnvRef(cfg.Client.FirebaseAPIKey)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 3000)
	v.SetDefault("auth.disabled", false)
	v.SetDefault("speechify.base_url", "https://api.sws.speechify.com")
	v.SetDefault("speechify.audio_format", "mp3")
	v.SetDefault("speechify.timeout_seconds", 120)
	v.SetDefault("mixer.ffmpeg_path", "ffmpeg")
	v.SetDefault("mixer.speech_gain", 1.8)
	v.SetDefault("mixer.speech_tempo", 1.0)
	v.SetDefault("mixer.ambiance_gain", 0.15)
	v.SetDefault("mixer.ambiance_sample_rate", 48000)
	v.SetDefault("mixer.sample_rate", 48000)
	v.SetDefault("mixer.bitrate", "192k")
	v.SetDefault("mixer.channels", 2)
	v.SetDefault("mixer.dropout_transition", 2)
	v.SetDefault("paths.catalog", "ssml_meditations.json")
	v.SetDefault("paths.ambiances", "sounds/ambiances")
	v.SetDefault("paths.voices", "sounds/voices")
	v.SetDefault("paths.meditations", "sounds/meditations")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.subject_prefix", "meditation")
	v.SetDefault("client.server_url", "http://localhost:3000")
	v.SetDefault("client.state_dir", defaultStateDir())
	v.SetDefault("client.documents_dir", "meditations")
	v.SetDefault("client.ffplay_path", "ffplay")
	v.SetDefault("client.ffprobe_path", "ffprobe")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".serenity"
	}
	return dir + string(os.PathSeparator) + "serenity"
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Transports.HTTP.Enabled && !validPort(c.Transports.HTTP.Port) {
		errs = append(errs, fmt.Errorf("transports.http.port out of range: %d", c.Transports.HTTP.Port))
	}
	if c.Transports.GRPC.Enabled && !validPort(c.Transports.GRPC.Port) {
		errs = append(errs, fmt.Errorf("transports.grpc.port out of range: %d", c.Transports.GRPC.Port))
	}
	if !validPort(c.Server.HealthPort) {
		errs = append(errs, fmt.Errorf("server.health_port out of range: %d", c.Server.HealthPort))
	}
	if c.Speechify.APIKey == "" {
		errs = append(errs, errors.New("speechify.api_key is required (SPEECHIFY_API_KEY)"))
	}
	if !c.Auth.Disabled && c.Auth.CredentialsFile == "" {
		errs = append(errs, errors.New("auth.credentials_file is required (GOOGLE_APPLICATION_CREDENTIALS)"))
	}
	if c.Mixer.FFmpegPath == "" {
		errs = append(errs, errors.New("mixer.ffmpeg_path is required (FFMPEG_PATH)"))
	}
	if c.Mixer.SampleRate <= 0 || c.Mixer.Channels <= 0 || c.Mixer.Bitrate == "" {
		errs = append(errs, errors.New("mixer output format requires sample_rate, channels and bitrate"))
	}
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
