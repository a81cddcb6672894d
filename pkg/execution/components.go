package execution

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrComponentNotFound is returned when no component is registered for a type.
var ErrComponentNotFound = errors.New("component not found")

// ComponentProvider looks up shared services by type.
type ComponentProvider interface {
	Lookup(t reflect.Type) (any, bool)
}

// Components is a concurrency-safe ComponentProvider populated at startup.
type Components struct {
	mu sync.RWMutex
	m  map[reflect.Type]any
}

// NewComponents creates an empty registry.
func NewComponents() *Components {
	return &Components{m: make(map[reflect.Type]any)}
}

// Provide registers value as the component for type T.
func Provide[T any](c *Components, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[reflect.TypeFor[T]()] = value
}

// Lookup implements ComponentProvider.
func (c *Components) Lookup(t reflect.Type) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[t]
	return v, ok
}

// ComponentOf resolves the component of type T from a context.
func ComponentOf[T any](pc PolicyContext) (T, error) {
	var zero T
	v, err := pc.Component(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("component %s has type %T", reflect.TypeFor[T](), v)
	}
	return typed, nil
}
