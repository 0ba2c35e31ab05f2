package speechify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nadzzz/serenity/internal/config"
	"github.com/nadzzz/serenity/internal/tts"
	"github.com/nadzzz/serenity/internal/tts/speechify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voicesJSON = `[
  {"id": "kristy", "display_name": "Kristy", "gender": "female", "locale": "en-US",
   "tags": ["timbre:warm"],
   "models": [{"name": "simba-english", "languages": [{"locale": "en-US", "preview_audio": "x"}]}]},
  {"id": "raphael", "display_name": "Raphael", "gender": "male", "locale": "fr-FR", "tags": [],
   "models": [{"name": "simba-multilingual", "languages": [{"locale": "fr-FR"}]}]}
]`

func newProvider(t *testing.T, handler http.HandlerFunc) *speechify.Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return speechify.New(config.SpeechifyConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/voices", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, voicesJSON)
	})

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)

	assert.Equal(t, "kristy", voices[0].ID)
	assert.Equal(t, "Kristy", voices[0].DisplayName)
	assert.Equal(t, "female", voices[0].Gender)
	assert.Equal(t, []string{"timbre:warm"}, voices[0].Tags)
	require.Len(t, voices[0].Models, 1)
	assert.Equal(t, "en-US", voices[0].Models[0].Languages[0].Locale)
	assert.False(t, voices[1].SpeaksLocale("en-US"))
}

func TestListVoicesUpstreamError(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := p.ListVoices(context.Background())
	require.ErrorContains(t, err, "status 401")
}

func TestStream(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/stream", r.URL.Path)
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "<speak>Breathe.</speak>", body["input"])
		assert.Equal(t, "kristy", body["voice_id"])

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	})

	rc, err := p.Stream(context.Background(), "<speak>Breathe.</speak>", tts.StreamOpts{VoiceID: "kristy"})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(data))
}

func TestStreamRejectsBadInput(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("provider must not be called")
	})
	ctx := context.Background()

	_, err := p.Stream(ctx, "", tts.StreamOpts{VoiceID: "kristy"})
	require.Error(t, err)
	_, err = p.Stream(ctx, "<speak/>", tts.StreamOpts{})
	require.Error(t, err)
	_, err = p.Stream(ctx, "<speak/>", tts.StreamOpts{VoiceID: "kristy", AudioFormat: "flac"})
	require.ErrorContains(t, err, "unsupported audio format")
}

func TestStreamUpstreamError(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	})

	_, err := p.Stream(context.Background(), "<speak/>", tts.StreamOpts{VoiceID: "nobody"})
	require.ErrorContains(t, err, "status 404")
	require.ErrorContains(t, err, "voice not found")
}
