package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/auth"
)

// joinTokenLeeway tolerates small clock skew between token issuer and server.
const joinTokenLeeway = 2 * time.Second

var errMissingToken = errors.New("missing auth token")

// websocketAuthenticator resolves the player id for an upgrade request.
type websocketAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// anonymousAuthenticator admits everyone. A reconnecting player may reclaim its
// previous id through the player_id query parameter; anything else gets a fresh id.
type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(r *http.Request) (string, error) {
	if claimed := strings.TrimSpace(r.URL.Query().Get("player_id")); claimed != "" {
		if parsed, err := uuid.Parse(claimed); err == nil {
			return parsed.String(), nil
		}
	}
	return uuid.NewString(), nil
}

type hmacWebsocketAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

func newHMACWebsocketAuthenticator(secret string, opts ...auth.VerifierOption) (websocketAuthenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, joinTokenLeeway, opts...)
	if err != nil {
		return nil, err
	}
	return &hmacWebsocketAuthenticator{verifier: verifier}, nil
}

// Authenticate validates the join token and returns its subject as the player id.
func (a *hmacWebsocketAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errMissingToken
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// WithWebsocketAuthenticator wires a custom authenticator into the server.
func WithWebsocketAuthenticator(authenticator websocketAuthenticator) ServerOption {
	return func(s *Server) {
		if s == nil || authenticator == nil {
			return
		}
		s.authenticator = authenticator
	}
}
