package domain

// ApiType distinguishes request/response proxies from message (pub/sub) APIs.
type ApiType string

const (
	// ApiTypeProxy forwards each request to a backend and relays one response.
	ApiTypeProxy ApiType = "proxy"
	// ApiTypeMessage consumes and produces streams of messages.
	ApiTypeMessage ApiType = "message"
)

// ListenerType identifies how clients reach an API.
type ListenerType string

const (
	// ListenerHTTP accepts calls on the gateway HTTP server.
	ListenerHTTP ListenerType = "http"
	// ListenerSubscription serves calls initiated by a subscription rather than a client request.
	ListenerSubscription ListenerType = "subscription"
)

// Qos is the declared delivery guarantee of a message entrypoint or endpoint.
type Qos string

const (
	QosAuto        Qos = "auto"
	QosNone        Qos = "none"
	QosAtMostOnce  Qos = "at-most-once"
	QosAtLeastOnce Qos = "at-least-once"
)

// PathOperator controls how a flow path selector is compared with the request path.
type PathOperator string

const (
	PathEquals     PathOperator = "EQUALS"
	PathStartsWith PathOperator = "STARTS_WITH"
)

// Api is a deployable API definition.
type Api struct {
	ID                string                                 `json:"id" yaml:"id"`
	Name              string                                 `json:"name" yaml:"name"`
	Version           string                                 `json:"version" yaml:"version"`
	Type              ApiType                                `json:"type" yaml:"type"`
	Listeners         []Listener                             `json:"listeners" yaml:"listeners"`
	EndpointGroups    []EndpointGroup                        `json:"endpointGroups" yaml:"endpointGroups"`
	Flows             []Flow                                 `json:"flows" yaml:"flows"`
	Plans             []Plan                                 `json:"plans" yaml:"plans"`
	Logging           *Logging                               `json:"logging,omitempty" yaml:"logging,omitempty"`
	ResponseTemplates map[string]map[string]ResponseTemplate `json:"responseTemplates,omitempty" yaml:"responseTemplates,omitempty"`
	Properties        map[string]string                      `json:"properties,omitempty" yaml:"properties,omitempty"`
	DeployedAt        string                                 `json:"deployedAt,omitempty" yaml:"deployedAt,omitempty"`
}

// HTTPListener returns the first HTTP listener of the API, if any.
func (a Api) HTTPListener() *Listener {
	for i := range a.Listeners {
		if a.Listeners[i].Type == ListenerHTTP {
			return &a.Listeners[i]
		}
	}
	return nil
}

// Listener declares the paths and entrypoints through which an API is reached.
type Listener struct {
	Type         ListenerType   `json:"type" yaml:"type"`
	Paths        []ListenerPath `json:"paths" yaml:"paths"`
	Entrypoints  []Entrypoint   `json:"entrypoints" yaml:"entrypoints"`
	Cors         *Cors          `json:"cors,omitempty" yaml:"cors,omitempty"`
	PathMappings []string       `json:"pathMappings,omitempty" yaml:"pathMappings,omitempty"`
}

// ListenerPath is a virtual host and context path pair.
type ListenerPath struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Path string `json:"path" yaml:"path"`
}

// Entrypoint references an entrypoint connector plugin.
type Entrypoint struct {
	Type          string         `json:"type" yaml:"type"`
	Qos           Qos            `json:"qos,omitempty" yaml:"qos,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// EndpointGroup is a set of interchangeable endpoints of the same type.
type EndpointGroup struct {
	Name                string         `json:"name" yaml:"name"`
	Type                string         `json:"type" yaml:"type"`
	LoadBalancer        string         `json:"loadBalancer,omitempty" yaml:"loadBalancer,omitempty"`
	SharedConfiguration map[string]any `json:"sharedConfiguration,omitempty" yaml:"sharedConfiguration,omitempty"`
	Endpoints           []Endpoint     `json:"endpoints" yaml:"endpoints"`
}

// Endpoint references an endpoint connector plugin.
type Endpoint struct {
	Name          string         `json:"name" yaml:"name"`
	Type          string         `json:"type,omitempty" yaml:"type,omitempty"`
	Weight        int            `json:"weight,omitempty" yaml:"weight,omitempty"`
	Secondary     bool           `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Flow is a conditionally applicable, ordered bundle of policy steps.
type Flow struct {
	ID        string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string       `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled   *bool        `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Order     int          `json:"order,omitempty" yaml:"order,omitempty"`
	Condition string       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Selector  HTTPSelector `json:"selector,omitempty" yaml:"selector,omitempty"`
	Request   []Step       `json:"request,omitempty" yaml:"request,omitempty"`
	Response  []Step       `json:"response,omitempty" yaml:"response,omitempty"`
	Publish   []Step       `json:"publish,omitempty" yaml:"publish,omitempty"`
	Subscribe []Step       `json:"subscribe,omitempty" yaml:"subscribe,omitempty"`
}

// IsEnabled reports whether the flow takes part in resolution. Flows are enabled unless stated otherwise.
func (f Flow) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// HTTPSelector restricts a flow to a path and a set of methods.
type HTTPSelector struct {
	Path         string       `json:"path,omitempty" yaml:"path,omitempty"`
	PathOperator PathOperator `json:"pathOperator,omitempty" yaml:"pathOperator,omitempty"`
	Methods      []string     `json:"methods,omitempty" yaml:"methods,omitempty"`
}

// Step is one policy invocation inside a flow.
type Step struct {
	Name             string         `json:"name,omitempty" yaml:"name,omitempty"`
	Policy           string         `json:"policy" yaml:"policy"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled          *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Condition        string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	MessageCondition string         `json:"messageCondition,omitempty" yaml:"messageCondition,omitempty"`
	Configuration    map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// IsEnabled reports whether the step should run.
func (s Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SecurityType names how a plan authenticates its consumers.
type SecurityType string

const (
	SecurityKeyless SecurityType = "key-less"
	SecurityApiKey  SecurityType = "api-key"
	SecurityJWT     SecurityType = "jwt"
)

// PlanStatus gates whether a plan is eligible for resolution.
type PlanStatus string

const (
	PlanPublished  PlanStatus = "published"
	PlanDeprecated PlanStatus = "deprecated"
	PlanClosed     PlanStatus = "closed"
	PlanStaging    PlanStatus = "staging"
)

// Plan is a consumption contract carrying its own security and flows.
type Plan struct {
	ID            string       `json:"id" yaml:"id"`
	Name          string       `json:"name" yaml:"name"`
	Status        PlanStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	Security      PlanSecurity `json:"security" yaml:"security"`
	SelectionRule string       `json:"selectionRule,omitempty" yaml:"selectionRule,omitempty"`
	Flows         []Flow       `json:"flows,omitempty" yaml:"flows,omitempty"`
}

// Usable reports whether the plan may serve traffic.
func (p Plan) Usable() bool {
	return p.Status == "" || p.Status == PlanPublished || p.Status == PlanDeprecated
}

// PlanSecurity configures the security policy of a plan.
type PlanSecurity struct {
	Type          SecurityType   `json:"type" yaml:"type"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Cors configures cross-origin resource sharing for a listener.
type Cors struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowOrigins     []string `json:"allowOrigin,omitempty" yaml:"allowOrigin,omitempty"`
	AllowMethods     []string `json:"allowMethods,omitempty" yaml:"allowMethods,omitempty"`
	AllowHeaders     []string `json:"allowHeaders,omitempty" yaml:"allowHeaders,omitempty"`
	ExposeHeaders    []string `json:"exposeHeaders,omitempty" yaml:"exposeHeaders,omitempty"`
	AllowCredentials bool     `json:"allowCredentials,omitempty" yaml:"allowCredentials,omitempty"`
	MaxAge           int      `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
	RunPolicies      bool     `json:"runPolicies,omitempty" yaml:"runPolicies,omitempty"`
}

// LoggingMode selects which side of the exchange is logged.
type LoggingMode string

const (
	LoggingNone        LoggingMode = "none"
	LoggingClient      LoggingMode = "client"
	LoggingProxy       LoggingMode = "proxy"
	LoggingClientProxy LoggingMode = "client-proxy"
)

// Logging configures request/response logging for an API.
type Logging struct {
	Mode      LoggingMode `json:"mode" yaml:"mode"`
	Headers   bool        `json:"headers,omitempty" yaml:"headers,omitempty"`
	Payloads  bool        `json:"payloads,omitempty" yaml:"payloads,omitempty"`
	Condition string      `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Enabled reports whether any logging should happen.
func (l *Logging) Enabled() bool {
	return l != nil && l.Mode != "" && l.Mode != LoggingNone
}

// ResponseTemplate overrides the on-wire rendering of a failure key for a media type.
type ResponseTemplate struct {
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}
