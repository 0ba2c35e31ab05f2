package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/nadzzz/serenity/internal/config"
)

type firebaseFake struct {
	refreshes int
	lastGrant string
	lastKey   string
}

func (f *firebaseFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	f.lastKey = r.URL.Query().Get("key")

	switch r.URL.Path {
	case "/v1/accounts:signInWithPassword", "/v1/accounts:signUp":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"idToken":      "id-1",
			"refreshToken": "rt-1",
			"expiresIn":    "3600",
			"localId":      "uid-1",
			"email":        body.Email,
		})
	case "/token":
		_ = r.ParseForm()
		f.refreshes++
		f.lastGrant = r.PostForm.Get("grant_type")
		if r.PostForm.Get("refresh_token") != "rt-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "id-2",
			"id_token":      "id-2",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    "3600",
			"user_id":       "uid-1",
		})
	default:
		http.NotFound(w, r)
	}
}

func newSession(t *testing.T) (*Session, *firebaseFake, string) {
	t.Helper()
	fake := &firebaseFake{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	s := New(config.ClientConfig{FirebaseAPIKey: "api-key", StateDir: dir},
		WithHTTPClient(srv.Client()),
		WithEndpoints(srv.URL+"/v1", srv.URL+"/token"),
	)
	return s, fake, dir
}

func TestSignInPersistsToken(t *testing.T) {
	t.Parallel()
	s, fake, dir := newSession(t)

	require.NoError(t, s.SignIn(context.Background(), "a@example.com", "secret"))
	assert.Equal(t, "api-key", fake.lastKey)

	tok, ok := s.StoredToken()
	require.True(t, ok)
	assert.Equal(t, "id-1", tok)
	assert.True(t, s.Authenticated())

	info, err := os.Stat(s.Store().Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A fresh process sees the same session.
	reloaded := New(config.ClientConfig{StateDir: dir})
	tok, ok = reloaded.StoredToken()
	require.True(t, ok)
	assert.Equal(t, "id-1", tok)
}

func TestSignInRejected(t *testing.T) {
	t.Parallel()
	s, _, _ := newSession(t)

	err := s.SignIn(context.Background(), "a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorContains(t, err, "INVALID_LOGIN_CREDENTIALS")
	assert.False(t, s.Authenticated())
	_, ok := s.StoredToken()
	assert.False(t, ok)
}

func TestSignUp(t *testing.T) {
	t.Parallel()
	s, _, _ := newSession(t)

	require.NoError(t, s.SignUp(context.Background(), "new@example.com", "secret"))
	assert.True(t, s.Authenticated())
}

func TestIDTokenRefresh(t *testing.T) {
	t.Parallel()
	s, fake, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "a@example.com", "secret"))

	tok, err := s.IDToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "id-1", tok)
	assert.Zero(t, fake.refreshes, "valid token is returned as is")

	tok, err = s.IDToken(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "id-2", tok)
	assert.Equal(t, 1, fake.refreshes)
	assert.Equal(t, "refresh_token", fake.lastGrant)
	assert.Equal(t, "api-key", fake.lastKey)

	stored, err := s.Store().Load()
	require.NoError(t, err)
	assert.Equal(t, "id-2", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)
}

func TestIDTokenRefreshesExpired(t *testing.T) {
	t.Parallel()
	s, fake, _ := newSession(t)
	require.NoError(t, s.Store().Save(&oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	tok, err := s.IDToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "id-2", tok)
	assert.Equal(t, 1, fake.refreshes)
}

func TestIDTokenRevokedRefreshToken(t *testing.T) {
	t.Parallel()
	s, _, _ := newSession(t)
	require.NoError(t, s.Store().Save(&oauth2.Token{AccessToken: "old", RefreshToken: "revoked"}))

	_, err := s.IDToken(context.Background(), true)
	assert.ErrorContains(t, err, "refreshing id token")
}

func TestNoSession(t *testing.T) {
	t.Parallel()
	s, _, _ := newSession(t)

	_, err := s.IDToken(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, s.Authenticated())
}

func TestSignOut(t *testing.T) {
	t.Parallel()
	s, _, _ := newSession(t)
	require.NoError(t, s.SignIn(context.Background(), "a@example.com", "secret"))

	require.NoError(t, s.SignOut())
	assert.False(t, s.Authenticated())
	assert.NoFileExists(t, s.Store().Path())
	require.NoError(t, s.SignOut(), "signing out twice is fine")
}
