// Package flow executes declarative node graphs. A Spec names its nodes and
// the forward and loop edges between them; the Executor validates the spec
// up front (unique ids, registered types, resolvable loop caps, acyclic
// forward graph), orders it topologically, and walks the order resolving
// input bindings, gating each node on its inbound edges, and applying
// per-node timeout and retry policy. Loop edges re-enter earlier positions
// while their condition holds, up to a cap resolved before the first node
// runs.
//
// Runs pause and resume through the hub: a resumable abort parks the run
// with a snapshot of position, outputs, and undelivered messages, and a
// later Run on the same session continues exactly where it left off. The
// SessionManager extends this across process restarts through a RunStore.
package flow
