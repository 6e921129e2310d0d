// Package binding implements pure evaluation of {{path}} placeholders and
// boolean condition trees against an execution context.
//
// A value that is entirely one placeholder resolves to the underlying typed
// value; a placeholder embedded in surrounding text is stringified and
// concatenated. Paths walk nested maps and arrays by dot-separated segments;
// the first missing or nil segment reports a MISSING_BINDING error.
package binding
