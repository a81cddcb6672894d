// Package security selects the plan serving a call and authenticates the
// consumer with the security policy of that plan.
//
// PlanResolver is a policy.Resolver: when no plan can handle the request it
// reports that nothing was resolved, and the chain provider denies the call.
package security
