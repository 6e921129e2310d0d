package hub

import (
	"sort"
	"strings"
)

// ChannelContext is passed to channel handlers and lifecycle hooks.
type ChannelContext struct {
	// State is the per-attach state produced by the channel's State factory.
	State any
	// Event is the enriched event being delivered (zero-valued in OnStart).
	Event EnrichedEvent
	// Emit publishes a follow-up event through the hub under the ambient
	// context of the delivery.
	Emit func(Event)
	// Hub is the owning hub, for channels that send commands back.
	Hub *Hub
}

// ChannelHandler handles one delivered event.
type ChannelHandler func(ChannelContext) error

// ChannelDefinition describes an external observer attached to the hub's
// event stream. Handlers only run between Start and Stop.
type ChannelDefinition struct {
	// Name identifies the channel in lifecycle events.
	Name string
	// State builds the per-attach state; nil means no state.
	State func() any
	// On maps event patterns ("*", exact type, "prefix:*") to handlers.
	On map[string]ChannelHandler
	// OnStart runs when the hub starts (or on registration into a started
	// hub).
	OnStart func(ChannelContext) error
	// OnComplete runs when the hub stops.
	OnComplete func(ChannelContext) error
}

// activeChannel tracks one registration and its live state.
type activeChannel struct {
	def      ChannelDefinition
	state    any
	active   bool
	patterns []string // sorted for deterministic handler order
}

func newActiveChannel(def ChannelDefinition) *activeChannel {
	patterns := make([]string, 0, len(def.On))
	for p := range def.On {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	ac := &activeChannel{def: def, patterns: patterns}
	if def.State != nil {
		ac.state = def.State()
	}
	return ac
}

// matchPattern reports whether pattern accepts eventType. Patterns are "*",
// an exact event type, or a "prefix:*" wildcard.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return pattern == eventType
}

// matchAny reports whether any of the patterns accepts eventType.
func matchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if matchPattern(p, eventType) {
			return true
		}
	}
	return false
}
