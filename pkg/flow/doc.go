// Package flow resolves which flows apply to a call and runs their policy
// chains in flow order.
//
// A FlowChain resolves its flows once per call and caches the result in an
// internal attribute of the execution context, so running the same chain for
// the response phase only builds and runs policy chains again.
package flow
