// Package hub implements the event hub of the FlowKit kernel: a pub/sub
// dispatcher with synchronous, order-preserving delivery, bidirectional
// session commands, scoped context propagation, channel lifecycle
// management, and pause/resume bookkeeping.
//
// Scope propagation threads an explicit context object through
// context.Context (see WithScope); an event emitted from code that began
// inside a scope carries that scope even across suspension points, and
// reverting to the parent scope is simply returning to the parent context.
//
// Event payloads form a closed sum per category with a stable,
// additive-only JSON wire shape, so recorded fixtures can be replayed
// against later versions.
package hub
