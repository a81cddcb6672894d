package policy

import (
	"log/slog"
	"sync"
)

// Manager creates policy instances, wrapping conditional steps and caching
// instances whose metadata carries a Key.
type Manager struct {
	factory Factory
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]Policy
}

// NewManager creates a Manager backed by factory.
func NewManager(factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory: factory,
		logger:  logger,
		cache:   make(map[string]Policy),
	}
}

// Create returns the policy described by meta.
func (m *Manager) Create(meta Metadata) (Policy, error) {
	if meta.Key != "" {
		m.mu.RLock()
		p, ok := m.cache[meta.Key]
		m.mu.RUnlock()
		if ok {
			return p, nil
		}
	}

	p, err := m.factory.Create(meta)
	if err != nil {
		m.logger.Error("policy creation failed",
			"policy", meta.Policy,
			"step", meta.ID(),
			"error", err,
		)
		return nil, err
	}
	if meta.Condition != "" || meta.MessageCondition != "" {
		p = NewConditionalPolicy(p, meta.ID(), meta.Condition, meta.MessageCondition)
	}

	if meta.Key != "" {
		m.mu.Lock()
		if existing, ok := m.cache[meta.Key]; ok {
			p = existing
		} else {
			m.cache[meta.Key] = p
		}
		m.mu.Unlock()
	}
	return p, nil
}
