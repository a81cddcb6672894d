// Package domain defines the deployable API definition model consumed by the
// gateway execution core.
//
// This package contains pure domain types with ZERO external dependencies outside
// the Go standard library. API definitions, flows, plans and connector
// configurations are produced by a configuration provider and handed to the
// reactor layer as an immutable snapshot per deployment generation.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
