package flow

import (
	"fmt"

	"github.com/BaSui01/flowkit/binding"
	"github.com/BaSui01/flowkit/node"
	"github.com/BaSui01/flowkit/types"
)

// loopEdge is a validated loop back-edge with its resolved iteration cap.
type loopEdge struct {
	edge Edge
	cap  int
}

// plan is the validated, statically-ordered execution plan of one run.
type plan struct {
	spec      *Spec
	order     []string              // topological order over forward edges
	position  map[string]int        // node id → index in order
	inbound   map[string][]Edge     // forward edges by target
	loopEdges map[string][]loopEdge // loop edges by source
	owned     map[string]bool       // nodes driven by a container, not the top-level pass
}

// validate checks the spec against the registry and the initial input and
// computes the execution plan. Any failure is fatal before any node runs.
func validate(spec *Spec, registry *node.Registry, input map[string]any) (*plan, error) {
	if spec == nil {
		return nil, types.NewError(types.ErrValidation, "flow spec is nil")
	}
	if spec.Name == "" {
		return nil, types.NewError(types.ErrValidation, "flow requires a name")
	}
	if len(spec.Nodes) == 0 {
		return nil, types.NewError(types.ErrValidation, "flow declares no nodes")
	}

	ids := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if n.ID == "" {
			return nil, types.NewError(types.ErrValidation, "node without id")
		}
		if ids[n.ID] {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
		if !registry.Has(n.Type) {
			return nil, types.NewError(types.ErrTypeNotFound, fmt.Sprintf("node %q references unregistered type %q", n.ID, n.Type)).WithNode(n.ID)
		}
		if n.Gate != "" && n.Gate != GateAny && n.Gate != GateAll {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("node %q has invalid gate mode %q", n.ID, n.Gate)).WithNode(n.ID)
		}
		if err := n.When.Validate(); err != nil {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("node %q when condition", n.ID)).WithNode(n.ID).WithCause(err)
		}
	}

	for _, pack := range spec.NodePacks {
		if !registry.HasPack(pack) {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("required node pack %q is not registered", pack))
		}
	}

	if spec.Input != nil {
		in := map[string]any{}
		if input != nil {
			in = input
		}
		if err := spec.Input.Validate(in); err != nil {
			return nil, types.NewError(types.ErrValidation, "flow input does not match declared shape").WithCause(err)
		}
	}

	p := &plan{
		spec:      spec,
		position:  make(map[string]int),
		inbound:   make(map[string][]Edge),
		loopEdges: make(map[string][]loopEdge),
		owned:     make(map[string]bool),
	}
	bctx := binding.NewContext(input)

	// Container children run under their container, never in the top-level
	// pass.
	for _, n := range spec.Nodes {
		def, _ := registry.Get(n.Type)
		if !def.Capabilities.IsContainer {
			continue
		}
		for _, child := range childIDs(n) {
			if !ids[child] {
				return nil, types.NewError(types.ErrValidation, fmt.Sprintf("container %q references undeclared child %q", n.ID, child)).WithNode(n.ID)
			}
			p.owned[child] = true
		}
	}

	for _, e := range spec.Edges {
		if !ids[e.From] {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("edge references undeclared node %q", e.From))
		}
		if !ids[e.To] {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("edge references undeclared node %q", e.To))
		}
		if err := e.When.Validate(); err != nil {
			return nil, types.NewError(types.ErrValidation, fmt.Sprintf("edge %s→%s when condition", e.From, e.To)).WithCause(err)
		}
		if e.IsLoop() {
			limit, err := resolveLoopCap(e, bctx)
			if err != nil {
				return nil, err
			}
			p.loopEdges[e.From] = append(p.loopEdges[e.From], loopEdge{edge: e, cap: limit})
			continue
		}
		p.inbound[e.To] = append(p.inbound[e.To], e)
	}

	order, err := topoSort(spec)
	if err != nil {
		return nil, err
	}
	p.order = order
	for i, id := range order {
		p.position[id] = i
	}
	return p, nil
}

// resolveLoopCap materializes a loop edge's maxIterations, which must be a
// positive literal or a binding resolvable against the flow input before
// any node runs.
func resolveLoopCap(e Edge, bctx *binding.Context) (int, error) {
	edgeErr := func(msg string) *types.Error {
		return types.NewError(types.ErrValidation, fmt.Sprintf("loop edge %s→%s %s", e.From, e.To, msg))
	}
	if e.MaxIterations == nil {
		return 0, edgeErr("requires maxIterations")
	}
	value := e.MaxIterations
	if s, ok := value.(string); ok {
		resolved, err := binding.Resolve(s, bctx)
		if err != nil {
			return 0, edgeErr("maxIterations binding is not resolvable against flow input").WithCause(err)
		}
		value = resolved
	}
	limit, ok := asInt(value)
	if !ok || limit <= 0 {
		return 0, edgeErr(fmt.Sprintf("maxIterations must resolve to a positive integer, got %v", value))
	}
	return limit, nil
}

// topoSort orders nodes over forward edges only (Kahn's algorithm, stable
// by declaration order). A forward cycle fails validation; cycles belong on
// loop edges.
func topoSort(spec *Spec) ([]string, error) {
	indegree := make(map[string]int, len(spec.Nodes))
	adjacent := make(map[string][]string)
	for _, n := range spec.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range spec.Edges {
		if e.IsLoop() {
			continue
		}
		adjacent[e.From] = append(adjacent[e.From], e.To)
		indegree[e.To]++
	}

	var ready []string
	for _, n := range spec.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]string, 0, len(spec.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range adjacent[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(spec.Nodes) {
		return nil, types.NewError(types.ErrValidation, "forward edges contain a cycle; use a loop edge for re-entry")
	}
	return order, nil
}

// childIDs reads the "children" list a container node declares, from input
// or config.
func childIDs(n NodeSpec) []string {
	raw, ok := n.Input["children"]
	if !ok {
		raw, ok = n.Config["children"]
	}
	if !ok {
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	case uint:
		return int(t), true
	}
	return 0, false
}
