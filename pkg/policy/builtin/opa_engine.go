package builtin

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Action is the verdict of a rego decision.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionRedact Action = "redact"
	ActionBlock  Action = "block"
)

// Decision is the converted result of a rego query.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
	Outputs  map[string]any
}

// Input is the document handed to rego as input.
type Input struct {
	ApiID        string
	PlanID       string
	Subject      string
	Method       string
	Path         string
	Headers      map[string]string
	Attributes   map[string]any
	Entrypoint   string
	DisableCache bool
}

// EngineOptions control rego engine construction.
type EngineOptions struct {
	// Entrypoint is the default decision path, e.g. "gateway/decision".
	Entrypoint string
	Modules    map[string]string
	// CacheMaxEntries bounds the LRU decision cache. Zero selects the default
	// size; negative disables caching.
	CacheMaxEntries int
}

// Engine evaluates decisions with embedded OPA.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache

	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery
}

const (
	defaultEntrypoint    = "gateway/decision"
	defaultCacheCapacity = 1024
)

// NewEngine parses the modules and prepares the default entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("opa engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	order := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		order = append(order, name)
	}
	sort.Strings(order)

	parsed := make(map[string]*ast.Module, len(order))
	for _, name := range order {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsed[name] = module
	}

	engine := &Engine{
		moduleOrder:   order,
		parsedModules: parsed,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}
	if maxEntries > 0 {
		engine.cache = newDecisionCache(maxEntries)
	}

	if _, err := engine.prepared(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}
	return engine, nil
}

// Evaluate runs the query for input. An undefined result allows.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	key, cacheable := e.cacheKey(entry, input)
	if cacheable {
		if cached, ok := e.cache.Get(key); ok {
			return cloneDecision(cached), nil
		}
	}

	query, err := e.prepared(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(inputDocument(input)))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
	}

	decision, err := toDecision(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, err
	}
	if cacheable {
		e.cache.Add(key, decision)
	}
	return decision, nil
}

func (e *Engine) prepared(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if q, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return q, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.moduleOrder)+1)
	opts = append(opts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}
	q, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &q
	return &q, nil
}

func inputDocument(in Input) map[string]any {
	headers := make(map[string]any, len(in.Headers))
	for k, v := range in.Headers {
		headers[k] = v
	}
	attributes := make(map[string]any, len(in.Attributes))
	for k, v := range in.Attributes {
		attributes[k] = v
	}
	return map[string]any{
		"api":     in.ApiID,
		"plan":    in.PlanID,
		"subject": in.Subject,
		"request": map[string]any{
			"method":  in.Method,
			"path":    in.Path,
			"headers": headers,
		},
		"attributes": attributes,
	}
}

// Decisions are cached only for identified callers, since anonymous inputs
// differ in fields outside the key.
func (e *Engine) cacheKey(entry string, in Input) (string, bool) {
	if e.cache == nil || in.DisableCache {
		return "", false
	}
	if strings.TrimSpace(in.ApiID) == "" || strings.TrimSpace(in.Subject) == "" {
		return "", false
	}
	h := sha256.New()
	for _, field := range []string{entry, in.ApiID, in.PlanID, in.Subject, in.Method, in.Path} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

func writeField(h hash.Hash, value string) {
	h.Write([]byte(strings.TrimSpace(value)))
	h.Write([]byte{0})
}

func toDecision(value any) (Decision, error) {
	payload, ok := value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
	action, err := parseAction(payload["action"])
	if err != nil {
		return Decision{}, err
	}
	reason, _ := payload["reason"].(string)

	metadata := map[string]string{}
	if raw, ok := payload["metadata"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				metadata[k] = s
			}
		}
	}
	outputs := map[string]any{}
	for k, v := range payload {
		switch strings.ToLower(k) {
		case "action", "reason", "metadata":
		default:
			outputs[k] = v
		}
	}
	return Decision{Action: action, Reason: reason, Metadata: metadata, Outputs: outputs}, nil
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch a := Action(strings.ToLower(text)); a {
	case ActionAllow, ActionRedact, ActionBlock:
		return a, nil
	default:
		return "", fmt.Errorf("opa decision: unknown action %q", text)
	}
}

func cloneDecision(d Decision) Decision {
	out := Decision{
		Action:   d.Action,
		Reason:   d.Reason,
		Metadata: make(map[string]string, len(d.Metadata)),
		Outputs:  make(map[string]any, len(d.Outputs)),
	}
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	for k, v := range d.Outputs {
		out.Outputs[k] = v
	}
	return out
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}
	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
