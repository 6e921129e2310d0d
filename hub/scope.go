package hub

import (
	"context"

	"github.com/BaSui01/flowkit/types"
)

type scopeKey struct{}

// WithScope derives a context carrying the ambient event scope shallow-merged
// with partial (inner keys win). Because the scope rides the context value
// chain, an event emitted from code that began inside a scope carries that
// scope even when unrelated work has interleaved — and the "pop" on exit is
// simply the parent context going back into use.
func WithScope(ctx context.Context, partial types.EventContext) context.Context {
	return context.WithValue(ctx, scopeKey{}, ScopeFrom(ctx).Merge(partial))
}

// ScopeFrom returns the ambient scope carried by ctx, zero-valued when none.
func ScopeFrom(ctx context.Context) types.EventContext {
	if scope, ok := ctx.Value(scopeKey{}).(types.EventContext); ok {
		return scope
	}
	return types.EventContext{}
}
