package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "serenity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Transports.HTTP.Port)
	assert.True(t, cfg.Transports.HTTP.Enabled)
	assert.False(t, cfg.Transports.GRPC.Enabled)
	assert.Equal(t, "ffmpeg", cfg.Mixer.FFmpegPath)
	assert.InEpsilon(t, 1.8, cfg.Mixer.SpeechGain, 0.001)
	assert.InEpsilon(t, 0.15, cfg.Mixer.AmbianceGain, 0.001)
	assert.Equal(t, 48000, cfg.Mixer.SampleRate)
	assert.Equal(t, "192k", cfg.Mixer.Bitrate)
	assert.Equal(t, "sounds/ambiances", cfg.Paths.Ambiances)
	assert.Equal(t, "sounds/meditations", cfg.Paths.Meditations)
	assert.Equal(t, "ssml_meditations.json", cfg.Paths.Catalog)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
transports:
  http:
    port: 8088
  grpc:
    enabled: true
    port: 50052
mixer:
  speech_gain: 2.0
  channels: 1
paths:
  ambiances: /srv/ambiances
events:
  enabled: true
  url: nats://nats:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Transports.HTTP.Port)
	assert.True(t, cfg.Transports.GRPC.Enabled)
	assert.Equal(t, 50052, cfg.Transports.GRPC.Port)
	assert.InEpsilon(t, 2.0, cfg.Mixer.SpeechGain, 0.001)
	assert.Equal(t, 1, cfg.Mixer.Channels)
	assert.Equal(t, "/srv/ambiances", cfg.Paths.Ambiances)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "nats://nats:4222", cfg.Events.URL)
}

func TestLoadWellKnownEnv(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("SPEECHIFY_API_KEY", "sk-test")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/secrets/firebase.json")
	t.Setenv("SERENITY_TRANSPORTS_HTTP_PORT", "9000")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Mixer.FFmpegPath)
	assert.Equal(t, "sk-test", cfg.Speechify.APIKey)
	assert.Equal(t, "/secrets/firebase.json", cfg.Auth.CredentialsFile)
	assert.Equal(t, 9000, cfg.Transports.HTTP.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadResolvesEnvRefs(t *testing.T) {
	t.Setenv("MY_SPEECHIFY_KEY", "from-ref")

	cfg, err := Load(writeConfig(t, "speechify:\n  api_key: ${MY_SPEECHIFY_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-ref", cfg.Speechify.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Server:     ServerConfig{HealthPort: 8081},
			Transports: TransportsConfig{HTTP: HTTPConfig{Enabled: true, Port: 3000}},
			Auth:       AuthConfig{CredentialsFile: "sa.json"},
			Speechify:  SpeechifyConfig{APIKey: "key"},
			Mixer:      MixerConfig{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2, Bitrate: "192k"},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Speechify.APIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "speechify.api_key")

	cfg = valid()
	cfg.Auth.CredentialsFile = ""
	assert.ErrorContains(t, cfg.Validate(), "auth.credentials_file")

	cfg.Auth.Disabled = true
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Transports.HTTP.Port = 70000
	assert.ErrorContains(t, cfg.Validate(), "transports.http.port")

	cfg = valid()
	cfg.Mixer.Bitrate = ""
	assert.ErrorContains(t, cfg.Validate(), "mixer output format")
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("SERENITY_TEST_REF", "value")

	assert.Equal(t, "value", resolveEnvRef("${SERENITY_TEST_REF}"))
	assert.Equal(t, "${SERENITY_TEST_UNSET}", resolveEnvRef("${SERENITY_TEST_UNSET}"))
	assert.Equal(t, "plain", resolveEnvRef("plain"))
}
