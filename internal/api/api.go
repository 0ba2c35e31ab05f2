// Package api defines the wire types exchanged between the serenity API and its clients.
package api

// GenerateRequest identifies a mixed meditation track by its triple.
// The same body is used by POST /generate-audio and POST /remove-file.
type GenerateRequest struct {
	// Title is the meditation title (matched case-insensitively).
	Title string `json:"title" example:"Calm Morning"`

	// Ambiance is the ambiance name as returned by GET /ambiances.
	Ambiance string `json:"ambiance" example:"rain"`

	// VoiceID is the provider voice id as returned by GET /list-voices.
	VoiceID string `json:"voiceId" example:"kristy"`
}

// TitlesResponse is returned by GET /meditation-titles.
type TitlesResponse struct {
	Titles []string `json:"titles"`
}

// Voice is a selectable synthesized voice.
type Voice struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Tags        []string `json:"tags"`
}

// VoicesResponse is returned by GET /list-voices. Voices are keyed by gender
// ("male", "female", "neutral", "unknown").
type VoicesResponse struct {
	CategorizedVoices map[string][]Voice `json:"categorizedVoices"`
}

// MessageResponse is a plain confirmation body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
