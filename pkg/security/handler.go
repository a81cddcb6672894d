package security

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// Handler recognises the credentials expected by one plan security type.
type Handler interface {
	Type() domain.SecurityType
	// CanHandle reports whether the request carries credentials of this type.
	// It does not validate them.
	CanHandle(ec *execution.Context, plan *domain.Plan) bool
	// PolicyID names the policy plugin validating the credentials.
	PolicyID() string
	// Priority orders plans; higher priorities are tried first.
	Priority() int
}

// DefaultHandlers returns the keyless, API key and JWT handlers.
func DefaultHandlers() []Handler {
	return []Handler{KeylessHandler{}, ApiKeyHandler{}, JWTHandler{}}
}

// KeylessHandler accepts any request.
type KeylessHandler struct{}

func (KeylessHandler) Type() domain.SecurityType { return domain.SecurityKeyless }

func (KeylessHandler) CanHandle(*execution.Context, *domain.Plan) bool { return true }

func (KeylessHandler) PolicyID() string { return KeylessPolicyID }

func (KeylessHandler) Priority() int { return 0 }

// ApiKeyHandler handles requests carrying an API key header or query parameter.
type ApiKeyHandler struct{}

func (ApiKeyHandler) Type() domain.SecurityType { return domain.SecurityApiKey }

func (ApiKeyHandler) CanHandle(ec *execution.Context, plan *domain.Plan) bool {
	cfg, err := decodeApiKeyConfig(plan.Security.Configuration)
	if err != nil {
		return false
	}
	return extractApiKey(ec.Request(), cfg) != ""
}

func (ApiKeyHandler) PolicyID() string { return ApiKeyPolicyID }

func (ApiKeyHandler) Priority() int { return 100 }

// JWTHandler handles requests carrying a bearer token shaped like a JWT.
type JWTHandler struct{}

func (JWTHandler) Type() domain.SecurityType { return domain.SecurityJWT }

func (JWTHandler) CanHandle(ec *execution.Context, _ *domain.Plan) bool {
	token := BearerToken(ec.Request().Headers)
	if token == "" {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	return err == nil
}

func (JWTHandler) PolicyID() string { return JWTPolicyID }

func (JWTHandler) Priority() int { return 200 }

// BearerToken returns the token of a Bearer Authorization header.
func BearerToken(headers http.Header) string {
	auth := strings.TrimSpace(headers.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
