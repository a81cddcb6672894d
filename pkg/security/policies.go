package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

// Security policy plugin ids.
const (
	KeylessPolicyID = "key-less"
	ApiKeyPolicyID  = "api-key"
	JWTPolicyID     = "jwt"
)

// Failure keys of the security policies.
const (
	KeyApiKeyMissing   = "API_KEY_MISSING"
	KeyApiKeyInvalid   = "API_KEY_INVALID"
	KeyJWTInvalidToken = "JWT_INVALID_TOKEN"
)

// AnonymousApplication identifies consumers of keyless plans.
const AnonymousApplication = "anonymous"

// AttrJWTClaims holds the claims of a validated token.
const AttrJWTClaims = execution.AttrPrefix + "jwt.claims"

const (
	defaultApiKeyHeader = "X-Api-Key"
	defaultApiKeyQuery  = "api-key"
)

// RegisterPolicies adds the security policies to r.
func RegisterPolicies(r *policy.Registry) {
	r.RegisterFunc(KeylessPolicyID, "", func(meta policy.Metadata) (policy.Policy, error) {
		return &KeylessPolicy{}, nil
	}, "keyless")
	r.RegisterFunc(ApiKeyPolicyID, "", NewApiKeyPolicy, "apikey")
	r.RegisterFunc(JWTPolicyID, "", NewJWTPolicy)
}

// KeylessPolicy marks the consumer as anonymous.
type KeylessPolicy struct{}

func (*KeylessPolicy) ID() string { return KeylessPolicyID }

func (*KeylessPolicy) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	pc.SetAttribute(execution.AttrApplication, AnonymousApplication)
	pc.SetAttribute(execution.AttrSubscription, pc.Request().RemoteAddress)
	return nil
}

// ApiKeyEntry is a key accepted by an API key plan.
type ApiKeyEntry struct {
	Key          string `yaml:"key"`
	Application  string `yaml:"application"`
	Subscription string `yaml:"subscription"`
}

type apiKeyConfig struct {
	Header    string        `yaml:"header"`
	Query     string        `yaml:"query"`
	Propagate bool          `yaml:"propagate"`
	Keys      []ApiKeyEntry `yaml:"keys"`
}

func decodeApiKeyConfig(raw map[string]any) (apiKeyConfig, error) {
	cfg := apiKeyConfig{Header: defaultApiKeyHeader, Query: defaultApiKeyQuery}
	if err := policy.DecodeConfiguration(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func extractApiKey(req *execution.Request, cfg apiKeyConfig) string {
	if key := strings.TrimSpace(req.Headers.Get(cfg.Header)); key != "" {
		return key
	}
	return strings.TrimSpace(req.Parameters.Get(cfg.Query))
}

// ApiKeyPolicy validates the API key of the request against the plan keys.
type ApiKeyPolicy struct {
	cfg  apiKeyConfig
	keys map[string]ApiKeyEntry
}

// NewApiKeyPolicy creates the policy.
func NewApiKeyPolicy(meta policy.Metadata) (policy.Policy, error) {
	cfg, err := decodeApiKeyConfig(meta.Configuration)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]ApiKeyEntry, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k.Key == "" {
			return nil, fmt.Errorf("%w: empty api key", policy.ErrInvalidConfiguration)
		}
		keys[k.Key] = k
	}
	return &ApiKeyPolicy{cfg: cfg, keys: keys}, nil
}

func (p *ApiKeyPolicy) ID() string { return ApiKeyPolicyID }

func (p *ApiKeyPolicy) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	req := pc.Request()
	key := extractApiKey(req, p.cfg)
	if key == "" {
		return pc.InterruptWith(unauthorized(KeyApiKeyMissing))
	}
	entry, ok := p.keys[key]
	if !ok {
		return pc.InterruptWith(unauthorized(KeyApiKeyInvalid))
	}
	if !p.cfg.Propagate {
		req.Headers.Del(p.cfg.Header)
		req.Parameters.Del(p.cfg.Query)
	}
	pc.SetAttribute(execution.AttrApplication, entry.Application)
	pc.SetAttribute(execution.AttrSubscription, entry.Subscription)
	return nil
}

type jwtConfig struct {
	Secret      string   `yaml:"secret"`
	Issuer      string   `yaml:"issuer"`
	Audience    string   `yaml:"audience"`
	Algorithms  []string `yaml:"algorithms"`
	UserClaim   string   `yaml:"userClaim"`
	ClientClaim string   `yaml:"clientClaim"`
	Propagate   bool     `yaml:"propagateAuthHeader"`
	Leeway      string   `yaml:"leeway"`
}

// JWTPolicy validates an HMAC signed bearer token.
type JWTPolicy struct {
	cfg    jwtConfig
	parser *jwt.Parser
}

// NewJWTPolicy creates the policy. The secret is required.
func NewJWTPolicy(meta policy.Metadata) (policy.Policy, error) {
	cfg := jwtConfig{Algorithms: []string{"HS256"}, UserClaim: "sub", ClientClaim: "azp"}
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is required", policy.ErrInvalidConfiguration)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(cfg.Algorithms), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway != "" {
		leeway, err := time.ParseDuration(cfg.Leeway)
		if err != nil {
			return nil, fmt.Errorf("%w: leeway: %v", policy.ErrInvalidConfiguration, err)
		}
		opts = append(opts, jwt.WithLeeway(leeway))
	}
	return &JWTPolicy{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (p *JWTPolicy) ID() string { return JWTPolicyID }

func (p *JWTPolicy) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	req := pc.Request()
	raw := BearerToken(req.Headers)
	claims := jwt.MapClaims{}
	_, err := p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(p.cfg.Secret), nil
	})
	if err != nil {
		pc.Logger().Debug("jwt rejected", "error", err, "expired", errors.Is(err, jwt.ErrTokenExpired))
		return pc.InterruptWith(unauthorized(KeyJWTInvalidToken))
	}

	if user, ok := claims[p.cfg.UserClaim].(string); ok {
		pc.SetAttribute(execution.AttrUser, user)
	}
	if client, ok := claims[p.cfg.ClientClaim].(string); ok {
		pc.SetAttribute(execution.AttrApplication, client)
	}
	pc.SetAttribute(AttrJWTClaims, map[string]any(claims))
	if !p.cfg.Propagate {
		req.Headers.Del("Authorization")
	}
	return nil
}

func unauthorized(key string) execution.ExecutionFailure {
	return execution.ExecutionFailure{
		StatusCode: http.StatusUnauthorized,
		Key:        key,
		Message:    http.StatusText(http.StatusUnauthorized),
	}
}
