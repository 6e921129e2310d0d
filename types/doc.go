// Package types contains the shared data model of the FlowKit kernel:
// the structured error taxonomy, the hierarchical event context, durable
// session snapshots, and the JSON-Schema subset used to validate node
// input and output.
//
// The package has no dependencies on the rest of the kernel so that every
// other package can import it freely.
package types
