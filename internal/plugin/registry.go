// Package plugin maps plugin type identifiers to factories. Identifiers take
// the form kind or kind@version; a bare kind resolves to the version that was
// registered for it.
package plugin

import (
	"sort"
	"strings"
	"sync"
)

// Metadata describes how an identifier was resolved.
type Metadata struct {
	Kind      string
	Version   string
	Canonical string
}

// Registry stores canonical factories and alias mappings.
type Registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry[F any]() *Registry[F] {
	return &Registry[F]{
		factories: make(map[string]F),
		aliases:   make(map[string]string),
	}
}

// Register stores factory under kind@version. The bare kind and every alias
// point at it unless the kind was already claimed by an earlier registration.
func (r *Registry[F]) Register(kind, version string, factory F, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical := CanonicalKey(kind, version)
	r.factories[canonical] = factory
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		r.aliases[alias] = canonical
	}
	kind = strings.TrimSpace(kind)
	if _, exists := r.aliases[kind]; !exists {
		r.aliases[kind] = canonical
	}
}

// Resolve looks up raw by canonical key first, then by alias.
func (r *Registry[F]) Resolve(raw string) (F, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw = strings.TrimSpace(raw)
	kind, version := ParseType(raw)
	canonical := CanonicalKey(kind, version)
	if factory, ok := r.factories[canonical]; ok {
		return factory, Metadata{Kind: kind, Version: version, Canonical: canonical}, true
	}
	if alias, ok := r.aliases[raw]; ok {
		if factory, ok := r.factories[alias]; ok {
			return factory, Metadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
		}
	}
	if version == "" {
		if alias, ok := r.aliases[kind]; ok {
			if factory, ok := r.factories[alias]; ok {
				return factory, Metadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
			}
		}
	}
	var zero F
	return zero, Metadata{}, false
}

// Kinds lists the canonical keys in lexical order.
func (r *Registry[F]) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseType splits kind@version.
func ParseType(raw string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(raw), "@", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// CanonicalKey joins kind and version.
func CanonicalKey(kind, version string) string {
	kind = strings.TrimSpace(kind)
	version = strings.TrimSpace(version)
	if version == "" {
		return kind
	}
	return kind + "@" + version
}

func versionFromKey(key string) string {
	_, version := ParseType(key)
	return version
}
