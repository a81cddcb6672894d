// Package reactor runs deployed APIs: one ApiReactor per API drives every
// call through entrypoint, processors, flows and endpoint, and a Registry
// routes calls to reactors by context path.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/flow"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/processor"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// ErrNotStarted is returned when a call reaches a reactor that is not
// serving traffic.
var ErrNotStarted = errors.New("api reactor not started")

const (
	chainPlatform = "platform"
	chainPlan     = "plan"
	chainApi      = "api"
)

type lifecycle int32

const (
	stateCreated lifecycle = iota
	stateStarted
	stateStopping
	stateStopped
)

// ApiReactor handles the calls of one deployed API. It is immutable once
// built; a redeploy builds a new reactor.
type ApiReactor struct {
	api         *domain.Api
	entrypoints *connector.EntrypointResolver
	endpoints   *connector.EndpointResolver
	processors  processor.Chains

	platformFlows *flow.Chain
	planFlows     *flow.Chain
	apiFlows      *flow.Chain

	// Connector calls decorated with the hooks once, at build time.
	handleRequest  hook.Func
	invoker        hook.Func
	handleResponse hook.Func

	contextCfg execution.Config
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	// mu orders admissions against Stop: a call is admitted, and counted in
	// inflight, only under the read lock while the reactor is started.
	mu       sync.RWMutex
	state    atomic.Int32
	inflight sync.WaitGroup
}

// Api returns the deployed definition.
func (r *ApiReactor) Api() *domain.Api { return r.api }

// ContextPaths returns the listener paths the reactor serves.
func (r *ApiReactor) ContextPaths() []domain.ListenerPath {
	if l := r.api.HTTPListener(); l != nil {
		return l.Paths
	}
	return nil
}

// NewContext creates the execution context of a call to this API.
func (r *ApiReactor) NewContext(req *execution.Request) *execution.Context {
	return execution.NewContext(req, nil, r.contextCfg)
}

// Start opens the reactor to traffic.
func (r *ApiReactor) Start(context.Context) error {
	if !r.state.CompareAndSwap(int32(stateCreated), int32(stateStarted)) {
		return fmt.Errorf("api %s: reactor cannot start from state %d", r.api.ID, r.state.Load())
	}
	r.metrics.SetConnectors(r.api.ID, "entrypoint", len(r.entrypoints.Connectors()))
	r.metrics.SetConnectors(r.api.ID, "endpoint", r.endpoints.Count())
	r.logger.Info("api started", "api_id", r.api.ID, "api_name", r.api.Name)
	return nil
}

// PreStop stops the connectors from accepting new work.
func (r *ApiReactor) PreStop(ctx context.Context) {
	r.entrypoints.PreStop(ctx)
	r.endpoints.PreStop(ctx)
}

// Stop waits for in-flight calls, bounded by ctx, then stops every
// connector. Connector failures are logged, never returned.
func (r *ApiReactor) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.state.CompareAndSwap(int32(stateStarted), int32(stateStopping)) &&
		!r.state.CompareAndSwap(int32(stateCreated), int32(stateStopping)) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("api stopped with calls in flight", "api_id", r.api.ID, "error", ctx.Err())
	}

	r.entrypoints.Stop(ctx)
	r.endpoints.Stop(ctx)
	r.metrics.DeleteConnectors(r.api.ID)
	r.state.Store(int32(stateStopped))
	r.logger.Info("api stopped", "api_id", r.api.ID)
}

// Handle runs one call to completion. On return the response of ec is final
// and well formed. The returned error only reports calls abandoned because
// ctx was cancelled.
func (r *ApiReactor) Handle(ctx context.Context, ec *execution.Context) (err error) {
	if !r.admit() {
		return ErrNotStarted
	}
	defer r.inflight.Done()

	defer func() {
		if p := recover(); p != nil {
			ec.Logger().Error("panic while handling call", "api_id", r.api.ID, "panic", p)
			err = r.complete(ctx, ec, fmt.Errorf("panic: %v", p))
		}
	}()

	ec.SetAttribute(execution.AttrApi, r.api.ID)
	ec.SetAttribute(execution.AttrApiName, r.api.Name)
	ec.SetAttribute(execution.AttrContextPath, ec.Request().ContextPath)

	return r.complete(ctx, ec, r.handle(ctx, ec))
}

// admit counts the call in flight if the reactor is serving traffic.
func (r *ApiReactor) admit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lifecycle(r.state.Load()) != stateStarted {
		return false
	}
	r.inflight.Add(1)
	return true
}

func (r *ApiReactor) handle(ctx context.Context, ec *execution.Context) error {
	entrypoint := r.entrypoints.Resolve(ec)
	if entrypoint == nil {
		return execution.NewFailure(http.StatusNotFound, domain.KeyNoEntrypoint, "No entrypoint matches the incoming request")
	}
	ec.SetInternalAttribute(execution.InternalEntrypoint, entrypoint)
	ec.SetAttribute(execution.AttrEntrypointID, entrypoint.ID())

	if err := r.processors.Pre.Execute(ctx, ec); err != nil {
		return err
	}
	if err := r.handleRequest(ctx, ec); err != nil {
		return err
	}

	message := r.api.Type == domain.ApiTypeMessage
	request := []*flow.Chain{r.platformFlows, r.planFlows, r.apiFlows}
	if err := r.runFlows(ctx, ec, request, execution.PhaseRequest); err != nil {
		return err
	}
	if message {
		if err := r.runFlows(ctx, ec, request, execution.PhaseMessageRequest); err != nil {
			return err
		}
	}

	if err := r.invoker(ctx, ec); err != nil {
		return err
	}

	response := []*flow.Chain{r.apiFlows, r.planFlows, r.platformFlows}
	if err := r.runFlows(ctx, ec, response, execution.PhaseResponse); err != nil {
		return err
	}
	if message {
		if err := r.runFlows(ctx, ec, response, execution.PhaseMessageResponse); err != nil {
			return err
		}
	}

	ec.SetInternalAttribute(execution.InternalStreamFailure, execution.StreamFailureHandler(
		func(ctx context.Context, err error) *execution.Message { return r.streamFailure(ctx, ec, err) },
	))
	return r.handleResponse(ctx, ec)
}

func entrypointOf(ec *execution.Context) connector.EntrypointConnector {
	ep, _ := ec.InternalAttribute(execution.InternalEntrypoint).(connector.EntrypointConnector)
	return ep
}

func entrypointRequest(ctx context.Context, ec *execution.Context) error {
	return entrypointOf(ec).HandleRequest(ctx, ec)
}

func entrypointResponse(ctx context.Context, ec *execution.Context) error {
	return entrypointOf(ec).HandleResponse(ctx, ec)
}

func (r *ApiReactor) runFlows(ctx context.Context, ec *execution.Context, chains []*flow.Chain, phase execution.Phase) error {
	for _, c := range chains {
		if err := c.Execute(ctx, ec, phase); err != nil {
			return err
		}
	}
	return nil
}

// invoke calls the endpoint, unless a processor asked to skip it.
func (r *ApiReactor) invoke(ctx context.Context, ec *execution.Context) error {
	if skip, _ := ec.InternalAttribute(execution.InternalInvokerSkip).(bool); skip {
		return nil
	}
	endpoint, ok := r.endpoints.Resolve(ec)
	if !ok {
		return execution.NewFailure(http.StatusServiceUnavailable, domain.KeyNoEndpoint, "No endpoint available")
	}
	return endpoint.Connect(ctx, ec)
}

// complete turns the outcome of the call into the final response: post
// processors on success or interruption, error processors on failure.
func (r *ApiReactor) complete(ctx context.Context, ec *execution.Context, err error) error {
	switch execution.Classify(err) {
	case execution.OutcomeCompleted, execution.OutcomeInterrupted:
		perr := r.processors.Post.Execute(ctx, ec)
		if execution.Classify(perr) == execution.OutcomeInterrupted {
			return nil
		}
		if perr != nil {
			return r.complete(ctx, ec, perr)
		}
		return nil
	case execution.OutcomeInterruptWith:
		failure, _ := execution.AsFailure(err)
		r.fail(ctx, ec, failure)
		return nil
	default:
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			ec.Logger().Debug("call abandoned by client", "api_id", r.api.ID)
			return err
		}
		ec.Logger().Error("unexpected error while handling call",
			"api_id", r.api.ID,
			"request_id", ec.ID(),
			"error", err,
		)
		r.fail(ctx, ec, execution.ExecutionFailure{
			StatusCode: http.StatusInternalServerError,
			Key:        domain.KeyInternalError,
			Message:    http.StatusText(http.StatusInternalServerError),
		})
		return nil
	}
}

// streamFailure translates an error ending a response stream, raised once
// the response is already committed, into the terminal message of the
// stream. The failure goes through the error processors exactly like a
// failure raised before the response was sent.
func (r *ApiReactor) streamFailure(ctx context.Context, ec *execution.Context, err error) *execution.Message {
	var failure execution.ExecutionFailure
	switch execution.Classify(err) {
	case execution.OutcomeCompleted, execution.OutcomeInterrupted:
		return nil
	case execution.OutcomeInterruptWith:
		failure, _ = execution.AsFailure(err)
	default:
		if ctx.Err() != nil {
			return nil
		}
		ec.Logger().Error("unexpected error while streaming response",
			"api_id", r.api.ID,
			"request_id", ec.ID(),
			"error", err,
		)
		failure = execution.ExecutionFailure{
			StatusCode: http.StatusInternalServerError,
			Key:        domain.KeyInternalError,
			Message:    http.StatusText(http.StatusInternalServerError),
		}
	}
	if ec.InternalAttribute(execution.InternalFailure) != nil {
		return nil
	}

	r.fail(ctx, ec, failure)
	resp := ec.Response()
	body, berr := resp.Body().Buffer()
	if berr != nil {
		body = []byte(failure.Message)
	}
	msg := execution.NewMessage(body)
	msg.Error = true
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		msg.Headers["Content-Type"] = []string{ct}
	}
	msg.Metadata["status"] = resp.Status
	msg.Metadata["key"] = failure.Key
	return msg
}

// fail renders failure through the error processors. It runs exactly once
// per call.
func (r *ApiReactor) fail(ctx context.Context, ec *execution.Context, failure execution.ExecutionFailure) {
	if ec.InternalAttribute(execution.InternalFailure) != nil {
		return
	}
	ec.SetInternalAttribute(execution.InternalFailure, failure)
	ec.SetAttribute(execution.AttrFailureKey, failure.Key)
	r.metrics.RecordFailure(r.api.ID, failure.Key)

	resp := ec.Response()
	resp.Reset()
	req := ec.Request()
	if req.ID != "" {
		resp.Headers.Set(processor.HeaderRequestID, req.ID)
	}
	if req.TransactionID != "" {
		resp.Headers.Set(processor.HeaderTransactionID, req.TransactionID)
	}

	if err := r.processors.Error.Execute(ctx, ec); err != nil {
		ec.Logger().Error("error processors failed, sending a plain failure", "api_id", r.api.ID, "error", err)
		resp.Reset()
		if err := (processor.SimpleFailure{}).Execute(ctx, ec); err != nil {
			resp.Status = failure.StatusCode
		}
	}
}
