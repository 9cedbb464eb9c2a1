package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrMissingToken = errors.New("auth: missing bearer token")

// Guard authorizes operator requests with a bearer token checked against
// one configured secret, which may be plain text or any stored-hash form
// the Verifier understands. With no secret configured the guard admits
// everything, matching development setups.
type Guard struct {
	secret   string
	verifier *Verifier
}

func NewGuard(secret string) *Guard {
	return &Guard{secret: strings.TrimSpace(secret), verifier: NewVerifier()}
}

func (g *Guard) Enabled() bool {
	return g != nil && g.secret != ""
}

// Authorize checks the request's bearer token: ErrMissingToken when none is
// presented, ErrInvalidCredentials when it does not match.
func (g *Guard) Authorize(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	token := BearerToken(r)
	if token == "" {
		return ErrMissingToken
	}
	return g.verifier.Verify(g.secret, token)
}

// BearerToken extracts the Authorization bearer value, if any.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
