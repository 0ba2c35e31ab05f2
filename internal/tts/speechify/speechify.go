// Package speechify implements the TTS Provider using the Speechify REST API.
//
// Two endpoints are used:
//
//	GET  /v1/voices        voice catalog
//	POST /v1/audio/stream  chunked audio for SSML input
//
// Both authenticate with the API key as a bearer token.
package speechify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nadzzz/serenity/internal/config"
	"github.com/nadzzz/serenity/internal/tts"
)

const defaultBaseURL = "https://api.sws.speechify.com"

// acceptTypes maps the requested audio format to the stream endpoint's Accept header.
var acceptTypes = map[string]string{
	"mp3": "audio/mpeg",
	"ogg": "audio/ogg",
	"aac": "audio/aac",
}

// Provider implements tts.Provider against Speechify.
type Provider struct {
	apiKey      string
	baseURL     string
	audioFormat string
	client      *http.Client
}

// New creates a Speechify provider from config.
func New(cfg config.SpeechifyConfig) *Provider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	format := cfg.AudioFormat
	if format == "" {
		format = "mp3"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Provider{
		apiKey:      cfg.APIKey,
		baseURL:     base,
		audioFormat: format,
		client:      &http.Client{Timeout: timeout},
	}
}

// ListVoices fetches the full voice catalog.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voices request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("voices failed (status %d): %s", resp.StatusCode, respBody)
	}

	var raw []voice
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding voices: %w", err)
	}

	voices := make([]tts.Voice, 0, len(raw))
	for _, v := range raw {
		voices = append(voices, v.toVoice())
	}
	slog.Debug("speechify voices", "count", len(voices))
	return voices, nil
}

// Stream requests synthesized audio for ssml. The response body is returned
// unread so the caller can write it straight to disk.
func (p *Provider) Stream(ctx context.Context, ssml string, opts tts.StreamOpts) (io.ReadCloser, error) {
	if ssml == "" {
		return nil, fmt.Errorf("empty input for synthesis")
	}
	if opts.VoiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}

	format := opts.AudioFormat
	if format == "" {
		format = p.audioFormat
	}
	accept, ok := acceptTypes[format]
	if !ok {
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}

	body, err := json.Marshal(streamRequest{Input: ssml, VoiceID: opts.VoiceID})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/audio/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	slog.Debug("speechify stream", "voice", opts.VoiceID, "format", format, "input_length", len(ssml))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("stream failed (status %d): %s", resp.StatusCode, respBody)
	}
	return resp.Body, nil
}

// Close is a no-op; connections are pooled by the http.Client.
func (p *Provider) Close() error { return nil }

// --- Wire types ---

type streamRequest struct {
	Input   string `json:"input"`
	VoiceID string `json:"voice_id"`
}

type voice struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Gender      string   `json:"gender"`
	Locale      string   `json:"locale"`
	Tags        []string `json:"tags"`
	Models      []struct {
		Name      string `json:"name"`
		Languages []struct {
			Locale string `json:"locale"`
		} `json:"languages"`
	} `json:"models"`
}

func (v voice) toVoice() tts.Voice {
	out := tts.Voice{
		ID:          v.ID,
		DisplayName: v.DisplayName,
		Gender:      v.Gender,
		Locale:      v.Locale,
		Tags:        v.Tags,
	}
	for _, m := range v.Models {
		model := tts.Model{Name: m.Name}
		for _, l := range m.Languages {
			model.Languages = append(model.Languages, tts.Language{Locale: l.Locale})
		}
		out.Models = append(out.Models, model)
	}
	return out
}
