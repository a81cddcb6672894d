package processor

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

const (
	headerOrigin               = "Origin"
	headerVary                 = "Vary"
	headerRequestMethod        = "Access-Control-Request-Method"
	headerRequestHeaders       = "Access-Control-Request-Headers"
	headerAllowOrigin          = "Access-Control-Allow-Origin"
	headerAllowCredentials     = "Access-Control-Allow-Credentials"
	headerAllowMethods         = "Access-Control-Allow-Methods"
	headerAllowHeaders         = "Access-Control-Allow-Headers"
	headerExposeHeaders        = "Access-Control-Expose-Headers"
	headerMaxAge               = "Access-Control-Max-Age"
	corsPreflightID            = "cors-preflight"
	corsSimpleID               = "cors"
	corsPreflightFailedMessage = "CORS preflight failed"
)

// CorsPreflight answers CORS preflight requests. A valid preflight ends the
// call with 204 unless the listener asks for policies to run on it, in which
// case the call continues without reaching the endpoint. An invalid one fails
// with 400.
type CorsPreflight struct {
	cors domain.Cors
}

// NewCorsPreflight creates the preflight processor.
func NewCorsPreflight(cors domain.Cors) *CorsPreflight {
	return &CorsPreflight{cors: cors}
}

func (p *CorsPreflight) ID() string { return corsPreflightID }

func (p *CorsPreflight) Execute(_ context.Context, ec *execution.Context) error {
	req := ec.Request()
	origin := req.Headers.Get(headerOrigin)
	requested := req.Headers.Get(headerRequestMethod)
	if req.Method != http.MethodOptions || origin == "" || requested == "" {
		return nil
	}

	if !originAllowed(origin, p.cors.AllowOrigins) ||
		!listAllows(p.cors.AllowMethods, requested) ||
		!headersAllowed(req.Headers.Get(headerRequestHeaders), p.cors.AllowHeaders) {
		return ec.InterruptWith(execution.ExecutionFailure{
			StatusCode: http.StatusBadRequest,
			Key:        domain.KeyCorsPreflightFailed,
			Message:    corsPreflightFailedMessage,
		})
	}

	resp := ec.Response()
	resp.Status = http.StatusNoContent
	setAllowOrigin(resp.Headers, origin, p.cors)
	if len(p.cors.AllowMethods) > 0 {
		resp.Headers.Set(headerAllowMethods, strings.Join(p.cors.AllowMethods, ", "))
	} else {
		resp.Headers.Set(headerAllowMethods, requested)
	}
	if len(p.cors.AllowHeaders) > 0 {
		resp.Headers.Set(headerAllowHeaders, strings.Join(p.cors.AllowHeaders, ", "))
	} else if rh := req.Headers.Get(headerRequestHeaders); rh != "" {
		resp.Headers.Set(headerAllowHeaders, rh)
	}
	if p.cors.MaxAge > 0 {
		resp.Headers.Set(headerMaxAge, strconv.Itoa(p.cors.MaxAge))
	}

	if p.cors.RunPolicies {
		ec.SetInternalAttribute(execution.InternalInvokerSkip, true)
		return nil
	}
	return ec.Interrupt()
}

// CorsHeaders adds the CORS response headers to calls from an allowed origin.
type CorsHeaders struct {
	cors domain.Cors
}

// NewCorsHeaders creates the response side CORS processor.
func NewCorsHeaders(cors domain.Cors) *CorsHeaders {
	return &CorsHeaders{cors: cors}
}

func (p *CorsHeaders) ID() string { return corsSimpleID }

func (p *CorsHeaders) Execute(_ context.Context, ec *execution.Context) error {
	origin := ec.Request().Headers.Get(headerOrigin)
	if origin == "" || !originAllowed(origin, p.cors.AllowOrigins) {
		return nil
	}
	headers := ec.Response().Headers
	setAllowOrigin(headers, origin, p.cors)
	if len(p.cors.ExposeHeaders) > 0 {
		headers.Set(headerExposeHeaders, strings.Join(p.cors.ExposeHeaders, ", "))
	}
	return nil
}

// setAllowOrigin echoes the origin, except for wildcard configurations without
// credentials which answer "*".
func setAllowOrigin(headers http.Header, origin string, cors domain.Cors) {
	if contains(cors.AllowOrigins, "*") && !cors.AllowCredentials {
		headers.Set(headerAllowOrigin, "*")
	} else {
		headers.Set(headerAllowOrigin, origin)
		addVary(headers, headerOrigin)
	}
	if cors.AllowCredentials {
		headers.Set(headerAllowCredentials, "true")
	}
}

func addVary(headers http.Header, value string) {
	for _, v := range headers.Values(headerVary) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	headers.Add(headerVary, value)
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// listAllows treats an empty list as allowing everything.
func listAllows(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == "*" || strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func headersAllowed(requested string, allowed []string) bool {
	if requested == "" {
		return true
	}
	for _, h := range strings.Split(requested, ",") {
		if h = strings.TrimSpace(h); h != "" && !listAllows(allowed, h) {
			return false
		}
	}
	return true
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
