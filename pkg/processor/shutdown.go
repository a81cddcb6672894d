package processor

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// DrainState tells whether the node is shutting down.
type DrainState interface {
	Draining() bool
}

const shutdownID = "shutdown"

// Shutdown asks clients to close their connection once the node drains.
type Shutdown struct {
	node DrainState
}

// NewShutdown creates the processor.
func NewShutdown(node DrainState) *Shutdown {
	return &Shutdown{node: node}
}

func (p *Shutdown) ID() string { return shutdownID }

func (p *Shutdown) Execute(_ context.Context, ec *execution.Context) error {
	if p.node != nil && p.node.Draining() {
		ec.Response().Headers.Set("Connection", "close")
	}
	return nil
}
