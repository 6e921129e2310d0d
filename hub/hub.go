package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/queue"
	"github.com/BaSui01/flowkit/types"
)

// Status is the run-level state machine of a hub:
// idle → running → {paused ⇄ running} → {complete | aborted}.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// Listener receives every matching enriched event, synchronously, in
// emission order.
type Listener func(EnrichedEvent)

// Filter is a list of event patterns: "*", an exact event type, or a
// "prefix:*" wildcard.
type Filter []string

// On builds a filter from patterns.
func On(patterns ...string) Filter {
	return Filter(patterns)
}

type subscription struct {
	filter   Filter
	listener Listener
	active   bool
}

// AbortOptions controls how a run is stopped.
type AbortOptions struct {
	// Resumable parks the run as a durable, continuable pause instead of
	// terminating it.
	Resumable bool
	// Reason is carried on the pause/abort event.
	Reason string
}

// Hub is the central pub/sub, command, and lifecycle coordinator for one
// run. All mutating state is guarded by a single mutex; listeners and
// channel handlers are invoked outside the lock so they may re-enter the
// hub (emit, subscribe, send commands).
type Hub struct {
	sessionID string
	logger    *zap.Logger

	mu          sync.Mutex
	status      Status
	started     bool
	subscribers []*subscription
	channels    []*activeChannel
	streams     []*queue.Queue[EnrichedEvent]
	paused      map[string]*types.SessionState
	prompts     map[string]string
	cancelRun   context.CancelFunc

	inbox *queue.Queue[types.Message]
}

// Option configures a hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(h *Hub) { h.sessionID = id }
}

// New creates an idle hub for one run.
func New(opts ...Option) *Hub {
	h := &Hub{
		status:  StatusIdle,
		paused:  make(map[string]*types.SessionState),
		prompts: make(map[string]string),
		inbox:   queue.New[types.Message](),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.sessionID == "" {
		h.sessionID = uuid.NewString()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.With(zap.String("component", "hub"), zap.String("session_id", h.sessionID))
	return h
}

// SessionID returns the fixed session id of this hub.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// Status returns the current run status.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Inbox is the injection queue for mid-run messages. Multi-turn nodes block
// on it; Resume and Send wake them.
func (h *Hub) Inbox() *queue.Queue[types.Message] {
	return h.inbox
}

// Scoped derives a context whose ambient event scope is the current scope
// shallow-merged with partial. Exiting the callee restores the parent scope.
func (h *Hub) Scoped(ctx context.Context, partial types.EventContext) context.Context {
	return WithScope(ctx, partial)
}

// Current returns the merged ambient context for ctx; it always includes
// the session id.
func (h *Hub) Current(ctx context.Context) types.EventContext {
	return types.EventContext{SessionID: h.sessionID}.Merge(ScopeFrom(ctx))
}

// BindCancel registers the cancel function for in-flight run work. A
// non-resumable abort invokes it so node work stops promptly.
func (h *Hub) BindCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelRun = cancel
}

// Emit synchronously delivers event to every matching subscriber in
// registration order, then to every active channel, tagging it with the
// ambient context merged with override. A failing listener is logged and
// skipped; delivery to the remaining listeners always continues. After a
// terminal abort nothing is emitted.
func (h *Hub) Emit(ctx context.Context, event Event, override ...types.EventContext) EnrichedEvent {
	enriched := EnrichedEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Context:   h.Current(ctx),
		Event:     event,
	}
	for _, o := range override {
		enriched.Context = enriched.Context.Merge(o)
	}

	h.mu.Lock()
	if h.status == StatusAborted {
		h.mu.Unlock()
		h.logger.Debug("dropping emission after abort", zap.String("event_type", event.EventType()))
		return enriched
	}
	subs := make([]*subscription, len(h.subscribers))
	copy(subs, h.subscribers)
	chans := make([]*activeChannel, len(h.channels))
	copy(chans, h.channels)
	streams := make([]*queue.Queue[EnrichedEvent], len(h.streams))
	copy(streams, h.streams)
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.active || !matchAny(sub.filter, enriched.Type()) {
			continue
		}
		h.invokeListener(sub, enriched)
	}
	for _, ch := range chans {
		h.deliverToChannel(ctx, ch, enriched)
	}
	for _, stream := range streams {
		stream.Push(enriched)
	}
	return enriched
}

func (h *Hub) invokeListener(sub *subscription, enriched EnrichedEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked, skipping",
				zap.String("event_type", enriched.Type()),
				zap.Any("recover", r),
			)
		}
	}()
	sub.listener(enriched)
}

func (h *Hub) deliverToChannel(ctx context.Context, ch *activeChannel, enriched EnrichedEvent) {
	h.mu.Lock()
	active := ch.active
	h.mu.Unlock()
	if !active {
		return
	}
	for _, pattern := range ch.patterns {
		if !matchPattern(pattern, enriched.Type()) {
			continue
		}
		handler := ch.def.On[pattern]
		if err := h.safeHandle(handler, h.channelContext(ctx, ch, enriched)); err != nil {
			h.logger.Error("channel handler failed, skipping",
				zap.String("channel", ch.def.Name),
				zap.String("pattern", pattern),
				zap.String("event_type", enriched.Type()),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) channelContext(ctx context.Context, ch *activeChannel, enriched EnrichedEvent) ChannelContext {
	return ChannelContext{
		State: ch.state,
		Event: enriched,
		Hub:   h,
		Emit: func(ev Event) {
			h.Emit(ctx, ev)
		},
	}
}

func (h *Hub) safeHandle(handler ChannelHandler, cc ChannelContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrInternalError, "channel handler panicked")
		}
	}()
	if handler == nil {
		return nil
	}
	return handler(cc)
}

// Subscribe attaches listener for events matching filter and returns its
// unsubscribe function.
func (h *Hub) Subscribe(filter Filter, listener Listener) func() {
	sub := &subscription{filter: filter, listener: listener, active: true}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		sub.active = false
		for i, s := range h.subscribers {
			if s == sub {
				h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Events returns a live, order-preserving stream of every event emitted
// from now on. Each call creates an independent consumer (fan-out, not a
// shared cursor). The stream closes when the hub stops or ctx is done.
func (h *Hub) Events(ctx context.Context) <-chan EnrichedEvent {
	stream := queue.New[EnrichedEvent]()

	h.mu.Lock()
	h.streams = append(h.streams, stream)
	h.mu.Unlock()

	out := make(chan EnrichedEvent)
	go func() {
		defer close(out)
		for {
			ev, ok := stream.Pop(ctx)
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// RegisterChannel attaches a channel definition. Registration always emits
// channel:registered; the channel only receives events while the hub is
// started. Registering into an already-started hub activates immediately.
func (h *Hub) RegisterChannel(ctx context.Context, def ChannelDefinition) {
	ch := newActiveChannel(def)

	h.mu.Lock()
	h.channels = append(h.channels, ch)
	started := h.started
	h.mu.Unlock()

	h.Emit(ctx, ChannelRegistered{Channel: def.Name})
	if started {
		h.activateChannel(ctx, ch)
	}
}

// UnregisterChannel detaches the named channel. A started channel receives
// its completion hook first.
func (h *Hub) UnregisterChannel(ctx context.Context, name string) {
	h.mu.Lock()
	var target *activeChannel
	for i, ch := range h.channels {
		if ch.def.Name == name {
			target = ch
			h.channels = append(h.channels[:i], h.channels[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if target == nil {
		return
	}
	if target.active {
		h.deactivateChannel(ctx, target)
	}
}

func (h *Hub) activateChannel(ctx context.Context, ch *activeChannel) {
	h.mu.Lock()
	if ch.active {
		h.mu.Unlock()
		return
	}
	ch.active = true
	h.mu.Unlock()

	h.Emit(ctx, ChannelStarted{Channel: ch.def.Name})
	if ch.def.OnStart != nil {
		if err := h.safeStartHook(ch.def.OnStart, h.channelContext(ctx, ch, EnrichedEvent{})); err != nil {
			h.logger.Error("channel onStart failed", zap.String("channel", ch.def.Name), zap.Error(err))
		}
	}
}

func (h *Hub) deactivateChannel(ctx context.Context, ch *activeChannel) {
	h.mu.Lock()
	if !ch.active {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if ch.def.OnComplete != nil {
		if err := h.safeStartHook(ch.def.OnComplete, h.channelContext(ctx, ch, EnrichedEvent{})); err != nil {
			h.logger.Error("channel onComplete failed", zap.String("channel", ch.def.Name), zap.Error(err))
		}
	}
	h.Emit(ctx, ChannelStopped{Channel: ch.def.Name})

	h.mu.Lock()
	ch.active = false
	h.mu.Unlock()
}

func (h *Hub) safeStartHook(hook func(ChannelContext) error, cc ChannelContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrInternalError, "channel hook panicked")
		}
	}()
	return hook(cc)
}

// Start activates registered channels and moves an idle hub to running.
// Idempotent.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	if h.status == StatusIdle {
		h.status = StatusRunning
	}
	chans := make([]*activeChannel, len(h.channels))
	copy(chans, h.channels)
	h.mu.Unlock()

	h.logger.Debug("hub started", zap.Int("channels", len(chans)))
	for _, ch := range chans {
		h.activateChannel(ctx, ch)
	}
}

// Stop deactivates every channel and closes live event streams. Idempotent.
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	chans := make([]*activeChannel, len(h.channels))
	copy(chans, h.channels)
	h.mu.Unlock()

	for _, ch := range chans {
		h.deactivateChannel(ctx, ch)
	}

	h.mu.Lock()
	streams := h.streams
	h.streams = nil
	h.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
	h.logger.Debug("hub stopped")
}

// Send publishes a session:message to the active session. It is a no-op
// unless a session is active — commands are never queued for later.
func (h *Hub) Send(ctx context.Context, msg types.Message) {
	h.sendMessage(ctx, msg, "", "")
}

// SendTo targets the message at a named agent.
func (h *Hub) SendTo(ctx context.Context, agent string, msg types.Message) {
	h.sendMessage(ctx, msg, agent, "")
}

// SendToRun targets the message at a child run.
func (h *Hub) SendToRun(ctx context.Context, runID string, msg types.Message) {
	h.sendMessage(ctx, msg, "", runID)
}

func (h *Hub) sendMessage(ctx context.Context, msg types.Message, agent, runID string) {
	h.mu.Lock()
	active := h.status == StatusRunning
	h.mu.Unlock()
	if !active {
		h.logger.Debug("dropping message, no active session", zap.String("status", string(h.Status())))
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	msg.Agent = agent
	msg.RunID = runID
	h.inbox.Push(msg)
	h.Emit(ctx, SessionMessage{Message: msg, TargetAgent: agent, TargetRun: runID})
}

// Prompt publishes a session:prompt and records the prompt id so a later
// Reply can be validated.
func (h *Hub) Prompt(ctx context.Context, promptID, prompt string) {
	h.mu.Lock()
	h.prompts[promptID] = prompt
	h.mu.Unlock()
	h.Emit(ctx, SessionPrompt{PromptID: promptID, Prompt: prompt})
}

// Reply publishes a session:reply for an outstanding prompt. Replying to an
// unknown prompt id is reported to the caller and leaves hub state intact.
func (h *Hub) Reply(ctx context.Context, promptID string, response any) error {
	h.mu.Lock()
	_, known := h.prompts[promptID]
	if known {
		delete(h.prompts, promptID)
	}
	h.mu.Unlock()

	if !known {
		return types.NewError(types.ErrUnknownPrompt, "no outstanding prompt with id "+promptID)
	}
	h.Emit(ctx, SessionReply{PromptID: promptID, Response: response})
	return nil
}

// Abort stops the run. With Resumable set the run transitions to the
// durable "paused" state; otherwise it transitions to terminal "aborted",
// in-flight work is cancelled, and nothing is emitted afterwards. Parked
// inbox waiters are always woken.
func (h *Hub) Abort(ctx context.Context, opts AbortOptions) error {
	h.mu.Lock()
	if h.status != StatusRunning && h.status != StatusPaused {
		status := h.status
		h.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, "cannot abort from status "+string(status))
	}
	cancel := h.cancelRun
	h.mu.Unlock()

	if opts.Resumable {
		h.Emit(ctx, SessionPaused{Reason: opts.Reason})
		h.mu.Lock()
		h.status = StatusPaused
		h.mu.Unlock()
		h.inbox.CancelWaiters()
		h.logger.Info("run paused", zap.String("reason", opts.Reason))
		return nil
	}

	// Emit the terminal event first: after the aborted transition nothing
	// may be emitted.
	h.Emit(ctx, SessionAborted{Reason: opts.Reason})
	h.mu.Lock()
	h.status = StatusAborted
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.inbox.CancelWaiters()
	h.logger.Info("run aborted", zap.String("reason", opts.Reason))
	return nil
}

// Complete moves a running hub to the terminal complete status.
func (h *Hub) Complete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusRunning {
		return types.NewError(types.ErrInvalidTransition, "cannot complete from status "+string(h.status))
	}
	h.status = StatusComplete
	return nil
}

// Resume clears a paused session back to running and wakes inbox waiters
// with the given message. Resuming a session that is not paused is an
// error that does not corrupt hub state.
func (h *Hub) Resume(ctx context.Context, sessionID string, msg *types.Message) error {
	h.mu.Lock()
	if h.status != StatusPaused {
		status := h.status
		h.mu.Unlock()
		return types.NewError(types.ErrSessionNotPaused, "cannot resume from status "+string(status))
	}
	if _, ok := h.paused[sessionID]; !ok {
		h.mu.Unlock()
		return types.NewError(types.ErrSessionNotPaused, "no paused session "+sessionID)
	}
	h.status = StatusRunning
	h.mu.Unlock()

	// The message goes to the live inbox only; PendingMessages stays what
	// was drained at park time, so a later re-injection cannot double-deliver.
	if msg != nil {
		h.inbox.Push(*msg)
	}
	h.Emit(ctx, SessionResumed{Message: msg})
	h.logger.Info("run resumed", zap.String("resumed_session_id", sessionID))
	return nil
}

// RestorePaused rehydrates a persisted pause into an idle hub so a new
// process can resume a run that was parked before the old one exited.
func (h *Hub) RestorePaused(state *types.SessionState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusIdle && h.status != StatusPaused {
		return types.NewError(types.ErrInvalidTransition, "cannot restore a pause into status "+string(h.status))
	}
	h.paused[state.SessionID] = state
	h.status = StatusPaused
	return nil
}

// UpdatePausedState records the resumable snapshot for a paused session.
func (h *Hub) UpdatePausedState(state *types.SessionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused[state.SessionID] = state
}

// ResumptionState returns the snapshot to continue from, or nil when the
// session has no pending resumable pause.
func (h *Hub) ResumptionState(sessionID string) *types.SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused[sessionID]
}

// ClearPausedSession drops the resumable snapshot once a run finishes
// successfully, so stale state never leaks into a later run sharing the id.
func (h *Hub) ClearPausedSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.paused, sessionID)
}
