package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowkit/binding"
	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/node"
	"github.com/BaSui01/flowkit/retry"
	"github.com/BaSui01/flowkit/store"
	"github.com/BaSui01/flowkit/types"
)

// Executor runs a validated flow against a hub: it orders nodes, resolves
// their input bindings, gates them on inbound edges, applies per-node
// timeout and retry policy, and persists resumable snapshots through the
// optional RunStore.
type Executor struct {
	hub      *hub.Hub
	registry *node.Registry
	store    store.RunStore
	logger   *zap.Logger
	tracer   trace.Tracer
	limiter  *rate.Limiter

	defaultTimeout time.Duration
	fanOutWidth    int

	// mergeMu serializes container child output merges into the parent
	// binding context during concurrent fan-out.
	mergeMu sync.Mutex
}

// ExecutorOption configures an executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithStore enables durable event logging and snapshot persistence.
func WithStore(s store.RunStore) ExecutorOption {
	return func(e *Executor) { e.store = s }
}

// WithTracer sets the tracer used to span node invocations.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithRateLimit bounds node invocations per second across the whole run.
func WithRateLimit(perSecond float64, burst int) ExecutorOption {
	return func(e *Executor) { e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithDefaultTimeout bounds nodes that declare no timeout of their own;
// zero leaves them unbounded.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithFanOutWidth sets the default concurrency of container fan-out nodes
// that declare no width of their own.
func WithFanOutWidth(n int) ExecutorOption {
	return func(e *Executor) { e.fanOutWidth = n }
}

// NewExecutor creates an executor bound to one hub and one node registry.
func NewExecutor(h *hub.Hub, registry *node.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{hub: h, registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("flowkit")
	}
	return e
}

// Result is the outcome of one Run call.
type Result struct {
	// Outputs holds the recorded output of every node that completed,
	// keyed by node id.
	Outputs map[string]any
	// Events is the full ordered event log of the run.
	Events []hub.EnrichedEvent
	// Duration spans the flow start to this return; a resumed continuation
	// reaches back to the original start, pause included.
	Duration time.Duration
	// Status is the hub status at return: complete, paused, or aborted.
	Status hub.Status
}

// collector accumulates every emitted event and, when a store is attached,
// appends each one to the durable run log.
type collector struct {
	mu          sync.Mutex
	events      []hub.EnrichedEvent
	pauseReason string
}

func (c *collector) record(ev hub.EnrichedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if p, ok := ev.Event.(hub.SessionPaused); ok {
		c.pauseReason = p.Reason
	}
}

func (c *collector) snapshot() ([]hub.EnrichedEvent, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hub.EnrichedEvent, len(c.events))
	copy(out, c.events)
	return out, c.pauseReason
}

// Run executes the flow to completion, pause, or failure. Validation happens
// up front and fails the run before any node executes. A paused run returns
// a nil error with Status paused; resuming the hub and calling Run again on
// the same session continues from the recorded position.
func (e *Executor) Run(ctx context.Context, spec *Spec, input map[string]any) (*Result, error) {
	start := time.Now()
	runID := e.hub.SessionID()

	col := &collector{}
	unsubscribe := e.hub.Subscribe(hub.On("*"), func(ev hub.EnrichedEvent) {
		col.record(ev)
		if e.store != nil {
			if err := e.store.AppendEvent(ctx, runID, ev); err != nil {
				e.logger.Warn("event append failed", zap.String("run_id", runID), zap.Error(err))
			}
		}
	})
	defer unsubscribe()

	e.hub.Start(ctx)

	plan, err := validate(spec, e.registry, input)
	if err != nil {
		name := ""
		if spec != nil {
			name = spec.Name
		}
		return e.failRun(ctx, name, col, start, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.hub.BindCancel(cancel)

	bctx := binding.NewContext(input)
	fired := make(map[string]bool, len(plan.order))
	startIndex := 0

	if state := e.hub.ResumptionState(runID); state != nil {
		startIndex = state.CurrentNodeIndex
		if !state.StartedAt.IsZero() {
			// Duration spans flow start to flow complete, pause included.
			start = state.StartedAt
		}
		for id, out := range state.Outputs {
			bctx.SetOutput(id, out)
			fired[id] = true
		}
		// Re-inject messages that arrived while paused so multi-turn nodes
		// observe them on their next inbox read.
		for _, msg := range state.PendingMessages {
			e.hub.Inbox().Push(msg)
			e.hub.Emit(runCtx, hub.SessionMessage{Message: msg, TargetAgent: msg.Agent, TargetRun: msg.RunID})
		}
		e.logger.Info("continuing paused run",
			zap.String("run_id", runID),
			zap.Int("node_index", startIndex),
			zap.Int("pending_messages", len(state.PendingMessages)),
		)
	} else {
		started := e.hub.Emit(runCtx, hub.FlowStarted{FlowName: spec.Name, Input: input})
		start = started.Timestamp
	}

	loopCounts := make(map[string]int)

	i := startIndex
	for i < len(plan.order) {
		switch e.hub.Status() {
		case hub.StatusPaused:
			return e.parkPaused(ctx, spec, plan, bctx, col, i, start)
		case hub.StatusAborted:
			events, _ := col.snapshot()
			return &Result{Outputs: bctx.Outputs(), Events: events, Duration: time.Since(start), Status: hub.StatusAborted},
				types.NewError(types.ErrInvalidTransition, "run aborted")
		}

		id := plan.order[i]
		if plan.owned[id] {
			i++
			continue
		}
		ns, _ := spec.Node(id)

		open, skipReason, err := gateOpen(plan, ns, fired, bctx)
		if err != nil {
			return e.failRun(ctx, spec.Name, col, start, err)
		}
		if !open {
			e.hub.Emit(runCtx, hub.NodeSkipped{NodeID: id, Reason: skipReason})
			i++
			continue
		}
		if ns.When != nil {
			hold, err := ns.When.Eval(bctx)
			if err != nil {
				return e.failRun(ctx, spec.Name, col, start, err)
			}
			if !hold {
				e.hub.Emit(runCtx, hub.NodeSkipped{NodeID: id, Reason: hub.SkipReasonWhen})
				i++
				continue
			}
		}

		if err := e.executeNode(runCtx, spec, ns, bctx); err != nil {
			if e.hub.Status() == hub.StatusAborted {
				events, _ := col.snapshot()
				return &Result{Outputs: bctx.Outputs(), Events: events, Duration: time.Since(start), Status: hub.StatusAborted},
					types.NewError(types.ErrInvalidTransition, "run aborted").WithCause(err)
			}
			if spec.nodeContinuesOnError(ns) {
				e.logger.Warn("node failed, continuing",
					zap.String("node_id", id),
					zap.Error(err),
				)
				i++
				continue
			}
			return e.failRun(ctx, spec.Name, col, start, err)
		}
		fired[id] = true

		// Loop edges re-enter an earlier position while their condition
		// holds and the cap is not exhausted. Declaration order decides
		// which edge wins when several are eligible.
		jumped := false
		for _, le := range plan.loopEdges[id] {
			hold := true
			if le.edge.When != nil {
				hold, err = le.edge.When.Eval(bctx)
				if err != nil {
					return e.failRun(ctx, spec.Name, col, start, err)
				}
			}
			if !hold {
				continue
			}
			key := le.edge.From + "->" + le.edge.To
			if loopCounts[key] >= le.cap {
				err := types.NewError(types.ErrLoopExceeded,
					fmt.Sprintf("loop edge %s→%s exhausted %d iterations with its condition still holding", le.edge.From, le.edge.To, le.cap)).
					WithNode(id)
				return e.failRun(ctx, spec.Name, col, start, err)
			}
			loopCounts[key]++
			i = plan.position[le.edge.To]
			jumped = true
			break
		}
		if !jumped {
			i++
		}
	}

	e.hub.Emit(runCtx, hub.FlowCompleted{
		FlowName:   spec.Name,
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
	})
	if err := e.hub.Complete(); err != nil {
		e.logger.Warn("completion transition refused", zap.Error(err))
	}
	e.hub.ClearPausedSession(runID)
	if e.store != nil {
		if err := e.store.DeleteSnapshot(ctx, runID); err != nil {
			e.logger.Warn("snapshot delete failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	e.hub.Stop(ctx)

	events, _ := col.snapshot()
	return &Result{
		Outputs:  bctx.Outputs(),
		Events:   events,
		Duration: time.Since(start),
		Status:   hub.StatusComplete,
	}, nil
}

// parkPaused snapshots the resumable state at the current position and
// returns without error; the run continues from here after Resume.
func (e *Executor) parkPaused(ctx context.Context, spec *Spec, plan *plan, bctx *binding.Context, col *collector, index int, start time.Time) (*Result, error) {
	runID := e.hub.SessionID()
	events, reason := col.snapshot()

	pending := e.hub.Inbox().Drain()
	state := &types.SessionState{
		SessionID:        runID,
		FlowName:         spec.Name,
		CurrentNodeID:    plan.order[index],
		CurrentNodeIndex: index,
		Outputs:          bctx.Outputs(),
		PendingMessages:  pending,
		StartedAt:        start,
		PausedAt:         time.Now(),
		PauseReason:      reason,
	}
	e.hub.UpdatePausedState(state)
	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, runID, state); err != nil {
			e.logger.Error("snapshot save failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	e.logger.Info("run parked",
		zap.String("run_id", runID),
		zap.String("node_id", state.CurrentNodeID),
		zap.String("reason", reason),
	)
	return &Result{
		Outputs:  bctx.Outputs(),
		Events:   events,
		Duration: time.Since(start),
		Status:   hub.StatusPaused,
	}, nil
}

// failRun terminates the run with a flow:complete failure event.
func (e *Executor) failRun(ctx context.Context, flowName string, col *collector, start time.Time, cause error) (*Result, error) {
	completed := hub.FlowCompleted{
		FlowName:   flowName,
		Success:    false,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      cause.Error(),
	}
	if fe, ok := cause.(*types.Error); ok {
		completed.TraceID = fe.TraceID
	}
	e.hub.Emit(ctx, completed)
	if err := e.hub.Complete(); err != nil {
		e.logger.Debug("completion transition refused", zap.Error(err))
	}
	e.hub.Stop(ctx)

	events, _ := col.snapshot()
	return &Result{
		Events:   events,
		Duration: time.Since(start),
		Status:   e.hub.Status(),
	}, cause
}

// gateOpen decides whether a node's inbound forward edges admit it on this
// pass. Nodes without inbound edges are roots and always run. A closed gate
// reports why: SkipReasonWhen when a fired predecessor's edge condition
// evaluated false, SkipReasonEdge when no predecessor fired at all.
func gateOpen(p *plan, ns NodeSpec, fired map[string]bool, bctx *binding.Context) (bool, hub.SkipReason, error) {
	edges := p.inbound[ns.ID]
	if len(edges) == 0 {
		return true, "", nil
	}
	gate := ns.Gate
	if gate == "" {
		gate = GateAny
	}

	anyOpen := false
	whenClosed := false
	for _, edge := range edges {
		if !fired[edge.From] {
			if gate == GateAll {
				return false, hub.SkipReasonEdge, nil
			}
			continue
		}
		hold := true
		if edge.When != nil {
			var err error
			hold, err = edge.When.Eval(bctx)
			if err != nil {
				return false, "", err
			}
		}
		if hold {
			anyOpen = true
		} else {
			whenClosed = true
			if gate == GateAll {
				return false, hub.SkipReasonWhen, nil
			}
		}
	}
	if anyOpen {
		return true, "", nil
	}
	if whenClosed {
		return false, hub.SkipReasonWhen, nil
	}
	return false, hub.SkipReasonEdge, nil
}

// executeNode resolves, validates, and runs one node under its policy,
// emitting the node lifecycle events. The returned error is the last
// attempt's failure; the matching node:failed event has already been
// emitted.
func (e *Executor) executeNode(ctx context.Context, spec *Spec, ns NodeSpec, bctx *binding.Context) error {
	def, ok := e.registry.Get(ns.Type)
	if !ok {
		return types.NewError(types.ErrTypeNotFound, fmt.Sprintf("node type %q vanished from the registry", ns.Type)).WithNode(ns.ID)
	}

	nodeCtx := e.hub.Scoped(ctx, types.EventContext{Task: &types.TaskScope{ID: ns.ID}})
	if def.Capabilities.CreatesSession {
		nodeCtx = e.hub.Scoped(nodeCtx, types.EventContext{SessionID: uuid.NewString()})
	}

	resolved, err := binding.Resolve(mergedInput(ns), bctx)
	if err != nil {
		e.emitFailure(nodeCtx, spec, ns, err, 1)
		return err
	}
	if err := def.InputSchema.Validate(resolved); err != nil {
		err = types.NewError(types.ErrSchemaMismatch, fmt.Sprintf("node %q input does not match its declared shape", ns.ID)).WithNode(ns.ID).WithCause(err)
		e.emitFailure(nodeCtx, spec, ns, err, 1)
		return err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(nodeCtx); err != nil {
			e.emitFailure(nodeCtx, spec, ns, err, 1)
			return err
		}
	}

	nodeCtx, span := e.tracer.Start(nodeCtx, "node."+def.Type,
		trace.WithAttributes(
			attribute.String("flow.name", spec.Name),
			attribute.String("node.id", ns.ID),
			attribute.String("node.type", def.Type),
		))
	defer span.End()
	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	rc := node.RunContext{
		Hub:         e.hub,
		RunID:       e.hub.SessionID(),
		Logger:      e.logger.With(zap.String("node_id", ns.ID), zap.String("node_type", def.Type)),
		FanOutWidth: e.fanOutWidth,
	}
	if def.Capabilities.NeedsBindingContext || def.Capabilities.IsContainer {
		rc.BindingContext = bctx
	}
	if def.Capabilities.IsContainer {
		rc.ExecuteChild = e.childExecutor(spec, bctx)
	}

	policy := retry.DefaultPolicy()
	// Declared retries cover every execution failure, not just errors
	// flagged retryable.
	policy.Retryable = func(error) bool { return true }
	maxAttempts := 1
	if ns.Policy != nil && ns.Policy.Retry != nil {
		maxAttempts = ns.Policy.Retry.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		if ns.Policy.Retry.BackoffMs > 0 {
			policy.BackoffBase = time.Duration(ns.Policy.Retry.BackoffMs) * time.Millisecond
		}
	}

	timeout := ns.Policy.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.hub.Emit(nodeCtx, hub.NodeStarted{NodeID: ns.ID, NodeType: def.Type, Attempt: attempt})

		attemptStart := time.Now()
		output, err := e.invoke(nodeCtx, def, rc, resolved, timeout)
		if err == nil {
			if verr := def.OutputSchema.Validate(output); verr != nil {
				err = types.NewError(types.ErrSchemaMismatch, fmt.Sprintf("node %q output does not match its declared shape", ns.ID)).WithNode(ns.ID).WithCause(verr)
			}
		}
		if err == nil {
			bctx.SetOutput(ns.ID, output)
			e.hub.Emit(nodeCtx, hub.NodeCompleted{
				NodeID:     ns.ID,
				NodeType:   def.Type,
				DurationMs: time.Since(attemptStart).Milliseconds(),
			})
			span.SetStatus(codes.Ok, "")
			return nil
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := policy.Delay(attempt)
		e.hub.Emit(nodeCtx, hub.NodeRetrying{NodeID: ns.ID, Attempt: attempt + 1, DelayMs: delay.Milliseconds()})
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-nodeCtx.Done():
			timer.Stop()
			lastErr = nodeCtx.Err()
			attempt = maxAttempts
		}
	}

	if fe, ok := lastErr.(*types.Error); ok && fe.TraceID == "" && traceID != "" {
		lastErr = fe.WithTraceID(traceID)
	}
	span.SetStatus(codes.Error, lastErr.Error())
	e.emitFailure(nodeCtx, spec, ns, lastErr, maxAttempts)
	return lastErr
}

// invoke runs the node function, bounding it by the declared timeout when
// one is set. Expiry is reported as an execution failure.
func (e *Executor) invoke(ctx context.Context, def node.Definition, rc node.RunContext, input any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return def.Run(ctx, rc, input)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := def.Run(ctx, rc, input)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, types.NewError(types.ErrTimeout, fmt.Sprintf("node exceeded its %s timeout", timeout))
	}
}

func (e *Executor) emitFailure(ctx context.Context, spec *Spec, ns NodeSpec, err error, attempt int) {
	fatal := !spec.nodeContinuesOnError(ns)
	failed := hub.NodeFailed{
		NodeID:   ns.ID,
		NodeType: ns.Type,
		Message:  err.Error(),
		Attempt:  attempt,
		Fatal:    fatal,
	}
	if fe, ok := err.(*types.Error); ok {
		failed.Code = fe.Code
		failed.TraceID = fe.TraceID
	}
	e.hub.Emit(ctx, failed)
}

// childExecutor builds the ExecuteChild callback for container nodes. Each
// call forks the parent binding context with the supplied vars, runs the
// named children in order under a freshly minted session scope, merges
// their outputs back into the parent, and returns them keyed by node id.
func (e *Executor) childExecutor(spec *Spec, parent *binding.Context) node.ExecuteChildFunc {
	return func(ctx context.Context, nodeIDs []string, vars map[string]any) (map[string]any, error) {
		fork := parent.Fork(vars)
		scoped := e.hub.Scoped(ctx, types.EventContext{SessionID: uuid.NewString()})

		for _, id := range nodeIDs {
			ns, ok := spec.Node(id)
			if !ok {
				return nil, types.NewError(types.ErrValidation, fmt.Sprintf("container child %q is not declared in the flow", id))
			}
			if err := e.executeNode(scoped, spec, ns, fork); err != nil {
				return nil, err
			}
		}

		outs := make(map[string]any, len(nodeIDs))
		for _, id := range nodeIDs {
			if v, ok := fork.Output(id); ok {
				outs[id] = v
			}
		}
		e.mergeMu.Lock()
		for id, v := range outs {
			parent.SetOutput(id, v)
		}
		e.mergeMu.Unlock()
		return outs, nil
	}
}

// mergedInput combines a node's declarative input with its static config;
// input keys win on collision.
func mergedInput(ns NodeSpec) map[string]any {
	if len(ns.Config) == 0 {
		return ns.Input
	}
	merged := make(map[string]any, len(ns.Config)+len(ns.Input))
	for k, v := range ns.Config {
		merged[k] = v
	}
	for k, v := range ns.Input {
		merged[k] = v
	}
	return merged
}
