// Package policy runs ordered sequences of opaque policy units.
//
// A Chain executes the policies of one phase strictly in sequence. Each policy
// continues by returning nil, stops the chain with execution.ErrInterrupted,
// stops it with a structured failure through execution.FailureError, or fails
// with any other error. A chain is single use: it moves from READY through
// RUNNING to exactly one of COMPLETED, INTERRUPTED or FAILED.
//
// Policies are created by factories registered under a plugin type id in a
// Registry. ChainFactory turns flow steps into chains and caches the created
// policy instances per flow and phase, since deployed flows are immutable.
package policy
