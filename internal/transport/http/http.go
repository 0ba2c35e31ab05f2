// Package http implements the REST API transport for serenity.
//
// Every API route sits behind the bearer-token gate. The Swagger UI is served
// without authentication. Requests are logged with a request id that is echoed
// back in the X-Request-ID header.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/serenity/internal/api"
	"github.com/nadzzz/serenity/internal/auth"
	"github.com/nadzzz/serenity/internal/meditation"
	"github.com/nadzzz/serenity/internal/tts"
)

// DefaultLocale is the locale voices must speak to be listed.
const DefaultLocale = "en-US"

// maxBodyBytes bounds the JSON request bodies.
const maxBodyBytes = 64 << 10

// Client-facing error bodies. Details go to the log only.
const (
	msgTitlesFailed    = "Failed to fetch meditation titles."
	msgAmbiancesFailed = "Could not read ambiances folder"
	msgVoicesFailed    = "Failed to fetch voices."
	msgFieldsRequired  = "Title, ambiance, and voiceId are required."
	msgInvalidBody     = "Invalid request body."
	msgScriptNotFound  = "Meditation not found."
	msgAmbianceMissing = "Ambiance not found."
	msgFileNotFound    = "File not found."
	msgFileRemoved     = "File removed successfully."
	msgInternal        = "Internal server error."
)

// TitleLister lists the catalog titles.
type TitleLister interface {
	Titles() ([]string, error)
}

// AmbianceLister lists the ambiance library.
type AmbianceLister interface {
	List() ([]string, error)
}

// VoiceLister lists provider voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// Meditations generates and removes cached tracks.
type Meditations interface {
	Generate(ctx context.Context, t meditation.Triple) (*meditation.Result, error)
	Remove(ctx context.Context, t meditation.Triple) error
}

// Options wires the API handlers.
type Options struct {
	Titles      TitleLister
	Ambiances   AmbianceLister
	Voices      VoiceLister
	Meditations Meditations
	Verifier    auth.Verifier

	// Locale filters the voice listing. Defaults to DefaultLocale.
	Locale string
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	port   int
	opts   Options
	server *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int, opts Options) *Transport {
	if opts.Locale == "" {
		opts.Locale = DefaultLocale
	}
	return &Transport{port: port, opts: opts}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the API routes wrapped in request logging.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()

	gate := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(t.opts.Verifier, h)
	}

	mux.Handle("GET /meditation-titles", gate(t.handleTitles))
	mux.Handle("GET /ambiances", gate(t.handleAmbiances))
	mux.Handle("GET /list-voices", gate(t.handleVoices))
	mux.Handle("POST /generate-audio", gate(t.handleGenerate))
	mux.Handle("POST /remove-file", gate(t.handleRemove))

	// Swagger UI: serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return logRequests(mux)
}

// Listen starts the HTTP server.
func (t *Transport) Listen(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleTitles lists the meditation titles.
//
// @Summary     List meditation titles
// @Description Returns every title in the script catalog, in catalog order.
// @Tags        catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  api.TitlesResponse
// @Failure     401  {object}  api.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  api.ErrorResponse  "Catalog unreadable"
// @Router      /meditation-titles [get]
func (t *Transport) handleTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := t.opts.Titles.Titles()
	if err != nil {
		requestLogger(r).Error("listing titles failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgTitlesFailed)
		return
	}
	writeJSON(w, http.StatusOK, api.TitlesResponse{Titles: titles})
}

// handleAmbiances lists the ambiance names.
//
// @Summary     List ambiances
// @Description Returns the sorted names of the ambiance tracks, without extension.
// @Tags        catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   string
// @Failure     401  {object}  api.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  api.ErrorResponse  "Ambiance directory unreadable"
// @Router      /ambiances [get]
func (t *Transport) handleAmbiances(w http.ResponseWriter, r *http.Request) {
	names, err := t.opts.Ambiances.List()
	if err != nil {
		requestLogger(r).Error("listing ambiances failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgAmbiancesFailed)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// handleVoices lists the selectable voices grouped by gender.
//
// @Summary     List voices
// @Description Returns provider voices that speak en-US and carry at least one tag, grouped by gender.
// @Tags        catalog
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  api.VoicesResponse
// @Failure     401  {object}  api.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  api.ErrorResponse  "Provider failure"
// @Router      /list-voices [get]
func (t *Transport) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := t.opts.Voices.ListVoices(r.Context())
	if err != nil {
		requestLogger(r).Error("listing voices failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgVoicesFailed)
		return
	}

	grouped := tts.Categorize(voices, t.opts.Locale)
	out := make(map[string][]api.Voice, len(grouped))
	for gender, vs := range grouped {
		for _, v := range vs {
			out[gender] = append(out[gender], api.Voice{ID: v.ID, DisplayName: v.DisplayName, Tags: v.Tags})
		}
	}
	writeJSON(w, http.StatusOK, api.VoicesResponse{CategorizedVoices: out})
}

// handleGenerate returns the mixed track for a triple, generating it on a cache miss.
//
// @Summary     Generate a meditation
// @Description Mixes the synthesized script over the looped ambiance and returns the MP3.
// @Description Tracks are cached by (title, ambiance, voiceId); repeated requests are served from the cache.
// @Tags        meditations
// @Accept      json
// @Produce     audio/mpeg
// @Security    BearerAuth
// @Param       request  body      api.GenerateRequest  true  "Meditation triple"
// @Success     200      {file}    binary               "MP3 attachment"
// @Failure     400      {object}  api.ErrorResponse    "Missing field"
// @Failure     401      {object}  api.ErrorResponse    "Missing or invalid token"
// @Failure     404      {object}  api.ErrorResponse    "Unknown title or ambiance"
// @Failure     500      {object}  api.ErrorResponse    "Synthesis or mixing failure"
// @Router      /generate-audio [post]
func (t *Transport) handleGenerate(w http.ResponseWriter, r *http.Request) {
	triple, ok := decodeTriple(w, r)
	if !ok {
		return
	}
	logger := requestLogger(r).With("title", triple.Title, "ambiance", triple.Ambiance, "voice_id", triple.VoiceID)

	res, err := t.opts.Meditations.Generate(r.Context(), triple)
	if err != nil {
		if r.Context().Err() != nil {
			logger.Info("client went away during generation", "error", err)
			return
		}
		code, msg := generateStatus(err)
		if code == http.StatusInternalServerError {
			logger.Error("generation failed", "error", err)
		} else {
			logger.Info("generation rejected", "status", code, "error", err)
		}
		writeError(w, code, msg)
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		logger.Error("opening generated file", "path", res.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Error("stat generated file", "path", res.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	name := res.Key + ".mp3"
	logger.Info("serving meditation", "key", res.Key, "cached", res.Cached, "shared", res.Shared, "bytes", info.Size())
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleRemove deletes the cached track for a triple.
//
// @Summary     Remove a meditation
// @Description Deletes the cached MP3 for (title, ambiance, voiceId). The next generate request recreates it.
// @Tags        meditations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request  body      api.GenerateRequest  true  "Meditation triple"
// @Success     200      {object}  api.MessageResponse
// @Failure     400      {object}  api.ErrorResponse    "Missing field"
// @Failure     401      {object}  api.ErrorResponse    "Missing or invalid token"
// @Failure     404      {object}  api.ErrorResponse    "No cached file"
// @Failure     500      {object}  api.ErrorResponse    "Filesystem failure"
// @Router      /remove-file [post]
func (t *Transport) handleRemove(w http.ResponseWriter, r *http.Request) {
	triple, ok := decodeTriple(w, r)
	if !ok {
		return
	}
	logger := requestLogger(r).With("title", triple.Title, "ambiance", triple.Ambiance, "voice_id", triple.VoiceID)

	err := t.opts.Meditations.Remove(r.Context(), triple)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, api.MessageResponse{Message: msgFileRemoved})
	case errors.Is(err, meditation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, msgFieldsRequired)
	case errors.Is(err, meditation.ErrArtifactNotFound):
		logger.Info("nothing to remove", "error", err)
		writeError(w, http.StatusNotFound, msgFileNotFound)
	default:
		logger.Error("removal failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeTriple reads the request body. It writes the 400 itself when the body is unusable.
func decodeTriple(w http.ResponseWriter, r *http.Request) (meditation.Triple, bool) {
	var req api.GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		requestLogger(r).Info("invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return meditation.Triple{}, false
	}
	triple := meditation.Triple{Title: req.Title, Ambiance: req.Ambiance, VoiceID: req.VoiceID}
	if err := triple.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgFieldsRequired)
		return meditation.Triple{}, false
	}
	return triple, true
}

// generateStatus maps a pipeline error to a status code and client message.
func generateStatus(err error) (int, string) {
	switch {
	case errors.Is(err, meditation.ErrInvalidRequest):
		return http.StatusBadRequest, msgFieldsRequired
	case errors.Is(err, meditation.ErrScriptNotFound):
		return http.StatusNotFound, msgScriptNotFound
	case errors.Is(err, meditation.ErrAmbianceNotFound):
		return http.StatusNotFound, msgAmbianceMissing
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, api.ErrorResponse{Error: msg})
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}
