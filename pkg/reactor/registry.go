package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// ErrContextPathConflict is returned when an API claims a host and context
// path already served by another API.
var ErrContextPathConflict = errors.New("context path already in use")

type route struct {
	host    string
	path    string
	reactor *ApiReactor
}

type snapshot struct {
	routes   []route
	reactors map[string]*ApiReactor
}

// Registry routes calls to deployed reactors. Lookups read an immutable
// snapshot and never block; deployments are serialized.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *telemetry.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{metrics: metrics, logger: logger}
	r.current.Store(&snapshot{reactors: map[string]*ApiReactor{}})
	return r
}

// Resolve returns the reactor serving host and path and the context path it
// matched. The longest context path wins; among equal paths a route bound to
// the host wins over a route for any host.
func (r *Registry) Resolve(host, path string) (*ApiReactor, string, bool) {
	host = stripPort(host)
	for _, rt := range r.current.Load().routes {
		if rt.host != "" && !strings.EqualFold(rt.host, host) {
			continue
		}
		if underContextPath(path, rt.path) {
			return rt.reactor, rt.path, true
		}
	}
	return nil, "", false
}

// Reactor returns the reactor deployed for apiID.
func (r *Registry) Reactor(apiID string) (*ApiReactor, bool) {
	reactor, ok := r.current.Load().reactors[apiID]
	return reactor, ok
}

// Reactors returns every deployed reactor, ordered by API ID.
func (r *Registry) Reactors() []*ApiReactor {
	snap := r.current.Load()
	out := make([]*ApiReactor, 0, len(snap.reactors))
	for _, reactor := range snap.reactors {
		out = append(out, reactor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].api.ID < out[j].api.ID })
	return out
}

// Deploy starts reactor and routes its context paths to it. A reactor
// already deployed for the same API is replaced, then stopped once its
// in-flight calls are done or ctx expires.
func (r *Registry) Deploy(ctx context.Context, reactor *ApiReactor) (err error) {
	defer func() { r.metrics.RecordDeployment("deploy", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	apiID := reactor.api.ID
	next := &snapshot{reactors: make(map[string]*ApiReactor, len(prev.reactors)+1)}
	for id, existing := range prev.reactors {
		if id != apiID {
			next.reactors[id] = existing
		}
	}
	next.reactors[apiID] = reactor

	routes, err := buildRoutes(next.reactors)
	if err != nil {
		return err
	}
	next.routes = routes

	if err := reactor.Start(ctx); err != nil {
		return err
	}
	r.current.Store(next)
	r.metrics.SetApisDeployed(len(next.reactors))

	if old, ok := prev.reactors[apiID]; ok {
		r.logger.Info("api redeployed", "api_id", apiID)
		old.PreStop(ctx)
		old.Stop(ctx)
	}
	return nil
}

// Undeploy removes the API and stops its reactor.
func (r *Registry) Undeploy(ctx context.Context, apiID string) (err error) {
	defer func() { r.metrics.RecordDeployment("undeploy", err) }()

	old, err := r.detach(apiID)
	if err != nil {
		return err
	}
	old.PreStop(ctx)
	old.Stop(ctx)
	return nil
}

// detach removes the routes of apiID and returns its reactor, still running.
func (r *Registry) detach(apiID string) (*ApiReactor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	old, ok := prev.reactors[apiID]
	if !ok {
		return nil, fmt.Errorf("undeploy %s: %w", apiID, domain.ErrApiNotFound)
	}
	next := &snapshot{reactors: make(map[string]*ApiReactor, len(prev.reactors))}
	for id, existing := range prev.reactors {
		if id != apiID {
			next.reactors[id] = existing
		}
	}
	// Removing routes never introduces a conflict.
	next.routes, _ = buildRoutes(next.reactors)
	r.current.Store(next)
	r.metrics.SetApisDeployed(len(next.reactors))
	return old, nil
}

// Shutdown undeploys every API. Every reactor stops accepting work before
// the first one is stopped.
func (r *Registry) Shutdown(ctx context.Context) {
	var detached []*ApiReactor
	for _, reactor := range r.Reactors() {
		old, err := r.detach(reactor.api.ID)
		r.metrics.RecordDeployment("undeploy", err)
		if err != nil {
			r.logger.Warn("undeploy failed", "api_id", reactor.api.ID, "error", err)
			continue
		}
		detached = append(detached, old)
	}
	for _, reactor := range detached {
		reactor.PreStop(ctx)
	}
	for _, reactor := range detached {
		reactor.Stop(ctx)
	}
}

func buildRoutes(reactors map[string]*ApiReactor) ([]route, error) {
	var routes []route
	owners := make(map[string]string)
	for _, reactor := range reactors {
		for _, p := range reactor.ContextPaths() {
			rt := route{host: strings.ToLower(p.Host), path: normalizeContextPath(p.Path), reactor: reactor}
			key := rt.host + rt.path
			if owner, taken := owners[key]; taken && owner != reactor.api.ID {
				return nil, fmt.Errorf("%w: %s%s is served by api %s", ErrContextPathConflict, p.Host, rt.path, owner)
			}
			owners[key] = reactor.api.ID
			routes = append(routes, rt)
		}
	}
	sort.SliceStable(routes, func(i, j int) bool {
		if len(routes[i].path) != len(routes[j].path) {
			return len(routes[i].path) > len(routes[j].path)
		}
		if (routes[i].host != "") != (routes[j].host != "") {
			return routes[i].host != ""
		}
		return routes[i].host+routes[i].path < routes[j].host+routes[j].path
	})
	return routes, nil
}

func normalizeContextPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// underContextPath reports whether path is contextPath or below it on a
// segment boundary.
func underContextPath(path, contextPath string) bool {
	if contextPath == "/" {
		return true
	}
	if !strings.HasPrefix(path, contextPath) {
		return false
	}
	return len(path) == len(contextPath) || path[len(contextPath)] == '/'
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
