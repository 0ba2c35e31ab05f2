// Package session manages the client's Firebase sign-in.
//
// Email/password sign-in and sign-up go through the Identity Toolkit REST
// API. The resulting ID token and refresh token are kept as an oauth2.Token
// in a JSON file, and refreshing goes through the Secure Token endpoint with
// an oauth2 token source.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/nadzzz/serenity/internal/config"
)

// TokenFile is the file, inside the state directory, holding the session.
const TokenFile = "userToken.json"

const (
	defaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"
	defaultTokenURL    = "https://securetoken.googleapis.com/v1/token"
)

var (
	// ErrNoSession indicates that nobody is signed in.
	ErrNoSession = errors.New("not signed in")
	// ErrInvalidCredentials indicates a rejected email/password pair.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Store persists the session token as JSON.
type Store struct {
	path string
}

// NewStore keeps the token in dir/TokenFile.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, TokenFile)}
}

// Path is the token file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored token. A missing file yields ErrNoSession.
func (s *Store) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("opening token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token file: %w", err)
	}
	return tok, nil
}

// Save writes tok, readable by the current user only.
func (s *Store) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}
	return nil
}

// Clear removes the stored token.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// Option customizes a Session.
type Option func(*Session)

// WithHTTPClient sets the client used for Firebase calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithEndpoints overrides the Identity Toolkit base URL and the token URL.
func WithEndpoints(identityURL, tokenURL string) Option {
	return func(s *Session) {
		s.identityURL = identityURL
		s.tokenURL = tokenURL
	}
}

// Session is the signed-in Firebase user of this client.
// The stored AccessToken is the Firebase ID token.
type Session struct {
	apiKey      string
	store       *Store
	httpClient  *http.Client
	identityURL string
	tokenURL    string

	mu    sync.Mutex
	token *oauth2.Token
}

// New creates a session for the Firebase project identified by cfg.FirebaseAPIKey,
// persisted under cfg.StateDir.
func New(cfg config.ClientConfig, opts ...Option) *Session {
	s := &Session{
		apiKey:      cfg.FirebaseAPIKey,
		store:       NewStore(cfg.StateDir),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		identityURL: defaultIdentityURL,
		tokenURL:    defaultTokenURL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the token store.
func (s *Session) Store() *Store { return s.store }

// signInResponse is the Identity Toolkit answer for sign-in and sign-up.
type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

type identityError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn authenticates with email and password and persists the session.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "accounts:signInWithPassword", email, password)
}

// SignUp creates an email/password account and persists its session.
func (s *Session) SignUp(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "accounts:signUp", email, password)
}

func (s *Session) authenticate(ctx context.Context, method, email, password string) error {
	body, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	endpoint := s.identityURL + "/" + method + "?key=" + url.QueryEscape(s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firebase %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var ie identityError
		if json.Unmarshal(raw, &ie) == nil && ie.Error.Message != "" {
			if resp.StatusCode == http.StatusBadRequest {
				return fmt.Errorf("%w: %s", ErrInvalidCredentials, ie.Error.Message)
			}
			return fmt.Errorf("firebase %s: status %d: %s", method, resp.StatusCode, ie.Error.Message)
		}
		return fmt.Errorf("firebase %s: status %d: %s", method, resp.StatusCode, raw)
	}

	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}

	tok := &oauth2.Token{
		AccessToken:  out.IDToken,
		TokenType:    "Bearer",
		RefreshToken: out.RefreshToken,
		Expiry:       expiry(out.ExpiresIn),
	}
	return s.setToken(tok)
}

// StoredToken returns the persisted ID token without checking or refreshing it.
func (s *Session) StoredToken() (string, bool) {
	tok, err := s.current()
	if err != nil || tok.AccessToken == "" {
		return "", false
	}
	return tok.AccessToken, true
}

// Authenticated reports whether a refreshable session exists.
func (s *Session) Authenticated() bool {
	tok, err := s.current()
	return err == nil && tok.RefreshToken != ""
}

// IDToken returns the ID token, exchanging the refresh token for a new one when
// the current token expired or forceRefresh is set. A refreshed token is persisted.
func (s *Session) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	tok, err := s.current()
	if err != nil {
		return "", err
	}
	if !forceRefresh && tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", ErrNoSession
	}

	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.tokenURL + "?key=" + url.QueryEscape(s.apiKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	// An expired token makes the source go straight to the refresh grant.
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Unix(1, 0)}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	fresh, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing id token: %w", err)
	}

	out := &oauth2.Token{
		AccessToken:  fresh.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	if id, ok := fresh.Extra("id_token").(string); ok && id != "" {
		out.AccessToken = id
	}
	if out.RefreshToken == "" {
		out.RefreshToken = tok.RefreshToken
	}
	if err := s.setToken(out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// SignOut forgets the session.
func (s *Session) SignOut() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	return s.store.Clear()
}

func (s *Session) current() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		return s.token, nil
	}
	tok, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.token = tok
	return tok, nil
}

func (s *Session) setToken(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(tok); err != nil {
		return err
	}
	s.token = tok
	return nil
}

// expiry converts the Identity Toolkit "expiresIn" seconds string.
func expiry(seconds string) time.Time {
	n, err := strconv.Atoi(seconds)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(n) * time.Second)
}
