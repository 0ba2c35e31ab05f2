// Package tts defines the interface for text-to-speech voice providers.
//
// Serenity uses a provider for two things: enumerating the voice catalog that
// users choose from, and streaming synthesized speech for a meditation script.
package tts

import (
	"context"
	"io"
)

// UnknownGender is the bucket for voices the provider does not classify.
const UnknownGender = "unknown"

// Voice is a provider voice as described by its catalog.
type Voice struct {
	ID          string
	DisplayName string
	Gender      string
	Locale      string
	Tags        []string
	Models      []Model
}

// Model is a synthesis model a voice can be rendered with.
type Model struct {
	Name      string
	Languages []Language
}

// Language is a locale supported by a model.
type Language struct {
	Locale string
}

// SpeaksLocale reports whether the voice or any of its models supports locale.
func (v Voice) SpeaksLocale(locale string) bool {
	if v.Locale == locale {
		return true
	}
	for _, m := range v.Models {
		for _, l := range m.Languages {
			if l.Locale == locale {
				return true
			}
		}
	}
	return false
}

// StreamOpts controls synthesis.
type StreamOpts struct {
	// VoiceID selects the provider voice.
	VoiceID string

	// AudioFormat is the container requested from the provider (e.g. "mp3").
	AudioFormat string
}

// Provider lists voices and synthesizes speech.
type Provider interface {
	// ListVoices returns the provider's full voice catalog.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Stream synthesizes SSML and returns the encoded audio as a stream.
	// The caller must close the returned reader.
	Stream(ctx context.Context, ssml string, opts StreamOpts) (io.ReadCloser, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Categorize keeps voices that speak locale and carry at least one tag, and
// buckets them by gender. Catalog order is preserved within each bucket.
func Categorize(voices []Voice, locale string) map[string][]Voice {
	out := make(map[string][]Voice)
	for _, v := range voices {
		if len(v.Tags) == 0 || !v.SpeaksLocale(locale) {
			continue
		}
		gender := v.Gender
		if gender == "" {
			gender = UnknownGender
		}
		out[gender] = append(out[gender], v)
	}
	return out
}
