package reactor

import (
	"sync/atomic"
)

// Node is the gateway instance as seen by the APIs it serves.
type Node struct {
	ID      string
	Version string

	draining atomic.Bool
}

// NewNode creates a node.
func NewNode(id, version string) *Node {
	return &Node{ID: id, Version: version}
}

// BeginShutdown marks the node as draining: responses ask clients to close
// their connection.
func (n *Node) BeginShutdown() {
	n.draining.Store(true)
}

// Draining reports whether BeginShutdown was called.
func (n *Node) Draining() bool {
	return n.draining.Load()
}
