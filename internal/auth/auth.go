// Package auth gates API requests behind a verified bearer token.
//
// Tokens are Firebase ID tokens checked with the Admin SDK. The verified
// identity travels in the request context; handlers read it with FromContext.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/nadzzz/serenity/internal/config"
)

// DevUID is the identity assigned to every request when verification is disabled.
const DevUID = "local-dev"

const (
	msgMissingToken = "Authorization token is required."
	msgInvalidToken = "Invalid or expired token."
)

var (
	// ErrMissingToken indicates a request without a bearer token.
	ErrMissingToken = errors.New("authorization token is required")
	// ErrInvalidToken indicates a token the verifier rejected.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the verified caller.
type Identity struct {
	UID    string
	Email  string
	Claims map[string]any
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// tokenVerifier is the part of the Firebase auth client the gate uses.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebase initializes the Admin SDK from the service-account file in cfg.
func NewFirebase(ctx context.Context, cfg config.AuthConfig) (*FirebaseVerifier, error) {
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks signature, expiry and audience of an ID token.
func (f *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	tok, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := &Identity{UID: tok.UID, Claims: tok.Claims}
	if email, ok := tok.Claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

// AllowAll accepts any non-empty token as DevUID. Local development only.
type AllowAll struct{}

// Verify accepts token unless it is empty.
func (AllowAll) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UID: DevUID}, nil
}

// NewVerifier returns the verifier selected by cfg.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	if cfg.Disabled {
		slog.Warn("token verification disabled, accepting any bearer token")
		return AllowAll{}, nil
	}
	return NewFirebase(ctx, cfg)
}

// Middleware rejects requests without a valid bearer token with 401 and
// stores the verified identity in the context of those it lets through.
func Middleware(v Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			writeUnauthorized(w, msgMissingToken)
			return
		}

		id, err := v.Verify(r.Context(), token)
		if err != nil {
			slog.Debug("token rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, msgInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type ctxKey struct{}

// NewContext returns ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
