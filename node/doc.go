// Package node defines the node contract — the only interface external
// integrations must satisfy — and the registry mapping type identifiers to
// node definitions. It also ships the control pack: structural nodes for
// branching, switching, bounded loops, fan-out iteration, passthrough, and
// intentional failure.
//
// The kernel has no knowledge of any provider wire protocol; provider-backed
// nodes register here like any other definition.
package node
