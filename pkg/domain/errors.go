package domain

import "errors"

// Common domain errors
var (
	ErrApiNotFound    = errors.New("api not found")
	ErrPolicyNotFound = errors.New("policy not found")
)

// Error keys attached to execution failures. They are stable, machine readable
// identifiers that response templates are keyed on.
const (
	KeyMissingSecuredRequestPlan = "GATEWAY_MISSING_SECURED_REQUEST_PLAN"
	KeyNoEntrypoint              = "GATEWAY_NO_ENTRYPOINT"
	KeyNoApi                     = "GATEWAY_NO_API"
	KeyNoEndpoint                = "NO_ENDPOINT_FOUND"
	KeyInternalError             = "GATEWAY_INTERNAL_ERROR"
	KeyCorsPreflightFailed       = "CORS_PREFLIGHT_FAILED"
	KeyUpstreamUnreachable       = "GATEWAY_UPSTREAM_UNREACHABLE"
	KeyUnsupportedQos            = "GATEWAY_UNSUPPORTED_QOS"
	KeyRequestTimeout            = "REQUEST_TIMEOUT"
	KeyEndpointCircuitOpen       = "GATEWAY_ENDPOINT_CIRCUIT_OPEN"
)

// ErrorResponse defines the standard JSON error model returned on the data plane.
// It intentionally avoids exposing sensitive details while providing a stable machine-readable code.
// TraceID should carry the current OpenTelemetry trace identifier when available to aid diagnostics.
type ErrorResponse struct {
	Code       string `json:"code,omitempty"`     // Machine-readable error key (e.g., GATEWAY_NO_API)
	Message    string `json:"message"`            // Human-readable message (safe for clients)
	StatusCode int    `json:"http_status_code"`   // HTTP status mirrored in the body
	TraceID    string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
