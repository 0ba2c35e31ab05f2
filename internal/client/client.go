// Package client is the Go client of the serenity API.
//
// Every request carries the stored ID token. When the API answers 401 and a
// signed-in session exists, the token is force-refreshed, persisted and the
// request replayed exactly once. Without a session the LoginRequired hook runs
// and the call fails with ErrUnauthorized.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/serenity/internal/api"
)

// ErrUnauthorized indicates that the API rejected the caller and no refresh helped.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("serenity api: status %d", e.Code)
	}
	return fmt.Sprintf("serenity api: status %d: %s", e.Code, e.Message)
}

// Session supplies ID tokens.
type Session interface {
	// StoredToken returns the persisted token as is.
	StoredToken() (string, bool)
	// Authenticated reports whether the token can be refreshed.
	Authenticated() bool
	// IDToken returns a token, refreshing and persisting it when forceRefresh is set.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
}

// Triple identifies a meditation track.
type Triple struct {
	Title    string
	Ambiance string
	VoiceID  string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLoginRequired sets the hook run when the user must sign in again.
func WithLoginRequired(fn func()) Option {
	return func(cl *Client) { cl.loginRequired = fn }
}

// WithDocumentsDir sets where downloaded tracks are kept.
func WithDocumentsDir(dir string) Option {
	return func(cl *Client) { cl.documentsDir = dir }
}

// Client talks to the serenity API.
type Client struct {
	baseURL       string
	http          *http.Client
	session       Session
	loginRequired func()
	documentsDir  string
}

// New creates a client for the API at baseURL.
func New(baseURL string, s Session, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: 5 * time.Minute}, // generation runs synthesis and ffmpeg
		session:       s,
		loginRequired: func() {},
		documentsDir:  "meditations",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req with the stored token and handles a single refresh-and-replay on 401.
// A request with a body must be replayable (http.NewRequest sets GetBody for
// in-memory bodies).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	token, hasToken := c.session.StoredToken()

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if !hasToken || !c.session.Authenticated() {
		c.loginRequired()
		return nil, ErrUnauthorized
	}

	fresh, err := c.session.IDToken(ctx, true)
	if err != nil {
		slog.Warn("token refresh failed", "error", err)
		c.loginRequired()
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	resp, err = c.send(ctx, req, fresh)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.loginRequired()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		r.Body = body
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// call performs a JSON API call and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.request(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// request performs an API call and turns non-2xx answers into *StatusError.
func (c *Client) request(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var e api.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

// Titles lists the meditation titles.
func (c *Client) Titles(ctx context.Context) ([]string, error) {
	var out api.TitlesResponse
	if err := c.call(ctx, http.MethodGet, "/meditation-titles", nil, &out); err != nil {
		return nil, err
	}
	return out.Titles, nil
}

// Ambiances lists the ambiance names.
func (c *Client) Ambiances(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, http.MethodGet, "/ambiances", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Voices lists the selectable voices keyed by gender.
func (c *Client) Voices(ctx context.Context) (map[string][]api.Voice, error) {
	var out api.VoicesResponse
	if err := c.call(ctx, http.MethodGet, "/list-voices", nil, &out); err != nil {
		return nil, err
	}
	return out.CategorizedVoices, nil
}

// LocalPath is where the downloaded track for t is kept:
// <documents_dir>/<title>_<ambiance>_<voiceId>.mp3.
func (c *Client) LocalPath(t Triple) string {
	name := t.Title + "_" + t.Ambiance + "_" + t.VoiceID + ".mp3"
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	return filepath.Join(c.documentsDir, name)
}

// Generate asks the API for the track of t and saves it to dst. An empty dst
// means LocalPath(t). The file only appears once it is completely written.
func (c *Client) Generate(ctx context.Context, t Triple, dst string) (string, error) {
	if dst == "" {
		dst = c.LocalPath(t)
	}

	resp, err := c.request(ctx, http.MethodPost, "/generate-audio", tripleBody(t))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating documents dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*.part")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("downloading meditation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("saving meditation: %w", err)
	}
	return dst, nil
}

// Remove deletes the server's cached track for t and the local copy.
func (c *Client) Remove(ctx context.Context, t Triple) error {
	var out api.MessageResponse
	if err := c.call(ctx, http.MethodPost, "/remove-file", tripleBody(t), &out); err != nil {
		return err
	}
	if err := os.Remove(c.LocalPath(t)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing local copy: %w", err)
	}
	return nil
}

// Details is what the track-creation screen needs.
type Details struct {
	Ambiances []string
	Voices    map[string][]api.Voice
	// Downloaded lists the MP3 files already in the documents directory.
	Downloaded []string
}

// Details loads ambiances, voices and the downloaded tracks concurrently.
// It fails if any of the three fails.
func (c *Client) Details(ctx context.Context) (*Details, error) {
	var d Details
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		names, err := c.Ambiances(gctx)
		d.Ambiances = names
		return err
	})
	g.Go(func() error {
		voices, err := c.Voices(gctx)
		d.Voices = voices
		return err
	})
	g.Go(func() error {
		files, err := c.Downloaded()
		d.Downloaded = files
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Downloaded lists the MP3 files in the documents directory.
func (c *Client) Downloaded() ([]string, error) {
	entries, err := os.ReadDir(c.documentsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading documents dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func tripleBody(t Triple) api.GenerateRequest {
	return api.GenerateRequest{Title: t.Title, Ambiance: t.Ambiance, VoiceID: t.VoiceID}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
