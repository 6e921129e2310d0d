package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowkit/types"
)

func collect(h *Hub, filter Filter) *[]EnrichedEvent {
	var events []EnrichedEvent
	h.Subscribe(filter, func(ev EnrichedEvent) {
		events = append(events, ev)
	})
	return &events
}

func eventTypes(events []EnrichedEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type()
	}
	return out
}

func TestEmitDeliveryOrder(t *testing.T) {
	h := New()
	ctx := context.Background()

	var order []string
	h.Subscribe(On("*"), func(ev EnrichedEvent) {
		order = append(order, "first:"+ev.Type())
	})
	h.Subscribe(On("task:*"), func(ev EnrichedEvent) {
		order = append(order, "second:"+ev.Type())
	})

	h.Emit(ctx, TaskStarted{TaskID: "t-1"})
	h.Emit(ctx, AgentMessage{Agent: "writer", Content: "hi"})

	assert.Equal(t, []string{
		"first:task:start",
		"second:task:start",
		"first:agent:message",
	}, order)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h := New()
	ctx := context.Background()

	events := collect(h, On("task:start"))
	unsub := h.Subscribe(On("task:start"), func(EnrichedEvent) {
		t.Fatal("unsubscribed listener must not fire")
	})
	unsub()

	h.Emit(ctx, TaskStarted{TaskID: "t-1"})
	assert.Len(t, *events, 1)
}

func TestEmitEnrichesWithScope(t *testing.T) {
	h := New(WithSessionID("sess-1"))
	ctx := context.Background()

	events := collect(h, On("*"))

	scoped := h.Scoped(ctx, types.EventContext{Task: &types.TaskScope{ID: "t-9"}})
	inner := h.Scoped(scoped, types.EventContext{Agent: &types.AgentScope{Name: "planner"}})

	h.Emit(inner, AgentMessage{Agent: "planner", Content: "x"})
	// Back at the outer scope the agent layer is gone.
	h.Emit(scoped, TaskStarted{TaskID: "t-9"})

	require.Len(t, *events, 2)
	first := (*events)[0].Context
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "t-9", first.Task.ID)
	assert.Equal(t, "planner", first.Agent.Name)

	second := (*events)[1].Context
	assert.Equal(t, "t-9", second.Task.ID)
	assert.Nil(t, second.Agent)
}

func TestEmitOverrideContext(t *testing.T) {
	h := New(WithSessionID("sess-1"))
	events := collect(h, On("*"))

	h.Emit(context.Background(), TaskStarted{TaskID: "t-1"},
		types.EventContext{Phase: &types.PhaseScope{Name: "review", Number: 2}})

	require.Len(t, *events, 1)
	assert.Equal(t, "review", (*events)[0].Context.Phase.Name)
	assert.Equal(t, "sess-1", (*events)[0].Context.SessionID)
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	h := New()
	h.Subscribe(On("*"), func(EnrichedEvent) { panic("listener bug") })
	events := collect(h, On("*"))

	h.Emit(context.Background(), TaskStarted{TaskID: "t-1"})
	assert.Len(t, *events, 1)
}

func TestAbortTerminal(t *testing.T) {
	h := New()
	ctx := context.Background()
	h.Start(ctx)

	cancelled := false
	h.BindCancel(func() { cancelled = true })

	events := collect(h, On("*"))
	require.NoError(t, h.Abort(ctx, AbortOptions{Reason: "operator stop"}))

	assert.Equal(t, StatusAborted, h.Status())
	assert.True(t, cancelled)

	// The terminal event itself went out; everything after is dropped.
	require.Len(t, *events, 1)
	aborted, ok := (*events)[0].Event.(SessionAborted)
	require.True(t, ok)
	assert.Equal(t, "operator stop", aborted.Reason)

	h.Emit(ctx, TaskStarted{TaskID: "late"})
	assert.Len(t, *events, 1)
}

func TestAbortFromIdleFails(t *testing.T) {
	h := New()
	err := h.Abort(context.Background(), AbortOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestAbortResumableThenResume(t *testing.T) {
	h := New()
	ctx := context.Background()
	h.Start(ctx)
	events := collect(h, On("session:*"))

	require.NoError(t, h.Abort(ctx, AbortOptions{Resumable: true, Reason: "needs input"}))
	assert.Equal(t, StatusPaused, h.Status())

	h.UpdatePausedState(&types.SessionState{SessionID: h.SessionID()})

	msg := &types.Message{ID: "m-1", Content: "go on"}
	require.NoError(t, h.Resume(ctx, h.SessionID(), msg))
	assert.Equal(t, StatusRunning, h.Status())

	assert.Equal(t, []string{"session:paused", "session:resumed"}, eventTypes(*events))

	// The resume message is waiting in the inbox, and only there — the
	// snapshot keeps what was drained at park time.
	got, ok := h.Inbox().TryPop()
	require.True(t, ok)
	assert.Equal(t, "m-1", got.ID)

	state := h.ResumptionState(h.SessionID())
	require.NotNil(t, state)
	assert.Empty(t, state.PendingMessages)
}

func TestResumableAbortWakesInboxWaiters(t *testing.T) {
	h := New()
	ctx := context.Background()
	h.Start(ctx)

	done := make(chan bool, 1)
	go func() {
		_, ok := h.Inbox().Pop(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, h.Abort(ctx, AbortOptions{Resumable: true}))

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pause did not wake the inbox waiter")
	}
}

func TestResumeErrors(t *testing.T) {
	h := New()
	ctx := context.Background()

	err := h.Resume(ctx, h.SessionID(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotPaused, types.GetErrorCode(err))

	h.Start(ctx)
	require.NoError(t, h.Abort(ctx, AbortOptions{Resumable: true}))
	h.UpdatePausedState(&types.SessionState{SessionID: h.SessionID()})

	err = h.Resume(ctx, "some-other-session", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotPaused, types.GetErrorCode(err))
	assert.Equal(t, StatusPaused, h.Status(), "failed resume must not change status")
}

func TestRestorePaused(t *testing.T) {
	state := &types.SessionState{SessionID: "sess-1", CurrentNodeIndex: 2}

	h := New(WithSessionID("sess-1"))
	require.NoError(t, h.RestorePaused(state))
	assert.Equal(t, StatusPaused, h.Status())
	assert.Equal(t, 2, h.ResumptionState("sess-1").CurrentNodeIndex)

	require.NoError(t, h.Resume(context.Background(), "sess-1", nil))
	assert.Equal(t, StatusRunning, h.Status())

	running := New()
	running.Start(context.Background())
	err := running.RestorePaused(state)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestComplete(t *testing.T) {
	h := New()
	assert.Error(t, h.Complete(), "cannot complete an idle hub")

	h.Start(context.Background())
	require.NoError(t, h.Complete())
	assert.Equal(t, StatusComplete, h.Status())
	assert.Error(t, h.Complete())
}

func TestClearPausedSession(t *testing.T) {
	h := New()
	h.UpdatePausedState(&types.SessionState{SessionID: "sess-1"})
	require.NotNil(t, h.ResumptionState("sess-1"))

	h.ClearPausedSession("sess-1")
	assert.Nil(t, h.ResumptionState("sess-1"))
}

func TestSendRequiresActiveSession(t *testing.T) {
	h := New()
	ctx := context.Background()
	events := collect(h, On("session:message"))

	h.Send(ctx, types.Message{Content: "dropped"})
	assert.Empty(t, *events)
	assert.Equal(t, 0, h.Inbox().Len())

	h.Start(ctx)
	h.SendTo(ctx, "planner", types.Message{Content: "delivered"})

	require.Len(t, *events, 1)
	sm := (*events)[0].Event.(SessionMessage)
	assert.Equal(t, "planner", sm.TargetAgent)
	assert.NotEmpty(t, sm.Message.ID)
	assert.False(t, sm.Message.SentAt.IsZero())

	queued, ok := h.Inbox().TryPop()
	require.True(t, ok)
	assert.Equal(t, "delivered", queued.Content)
}

func TestPromptReply(t *testing.T) {
	h := New()
	ctx := context.Background()
	events := collect(h, On("session:prompt", "session:reply"))

	h.Prompt(ctx, "p-1", "approve deploy?")
	require.NoError(t, h.Reply(ctx, "p-1", "yes"))

	err := h.Reply(ctx, "p-1", "again")
	require.Error(t, err, "a prompt can be answered once")
	assert.Equal(t, types.ErrUnknownPrompt, types.GetErrorCode(err))

	err = h.Reply(ctx, "never-asked", "?")
	require.Error(t, err)

	assert.Equal(t, []string{"session:prompt", "session:reply"}, eventTypes(*events))
}

func TestChannelLifecycle(t *testing.T) {
	h := New()
	ctx := context.Background()

	var log []string
	def := ChannelDefinition{
		Name:  "probe",
		State: func() any { return &[]string{} },
		On: map[string]ChannelHandler{
			"task:*": func(cc ChannelContext) error {
				log = append(log, "handle:"+cc.Event.Type())
				return nil
			},
		},
		OnStart: func(ChannelContext) error {
			log = append(log, "start")
			return nil
		},
		OnComplete: func(ChannelContext) error {
			log = append(log, "complete")
			return nil
		},
	}

	lifecycle := collect(h, On("channel:*"))
	h.RegisterChannel(ctx, def)
	assert.Equal(t, []string{"channel:registered"}, eventTypes(*lifecycle))

	// Not started yet: events pass the channel by.
	h.Emit(ctx, TaskStarted{TaskID: "early"})
	assert.Empty(t, log)

	h.Start(ctx)
	h.Emit(ctx, TaskStarted{TaskID: "t-1"})
	h.Emit(ctx, AgentMessage{Agent: "a", Content: "ignored by filter"})
	h.Stop(ctx)

	assert.Equal(t, []string{"start", "handle:task:start", "complete"}, log)
	assert.Equal(t, []string{
		"channel:registered", "channel:started", "channel:stopped",
	}, eventTypes(*lifecycle))

	// After stop the channel is inert again.
	h.Emit(ctx, TaskStarted{TaskID: "late"})
	assert.Equal(t, []string{"start", "handle:task:start", "complete"}, log)
}

func TestRegisterChannelIntoStartedHub(t *testing.T) {
	h := New()
	ctx := context.Background()
	h.Start(ctx)

	started := false
	h.RegisterChannel(ctx, ChannelDefinition{
		Name:    "late",
		OnStart: func(ChannelContext) error { started = true; return nil },
	})
	assert.True(t, started, "registration into a started hub activates immediately")
}

func TestChannelHandlerErrorIsIsolated(t *testing.T) {
	h := New()
	ctx := context.Background()

	calls := 0
	h.RegisterChannel(ctx, ChannelDefinition{
		Name: "flaky",
		On: map[string]ChannelHandler{
			"*": func(ChannelContext) error { panic("handler bug") },
		},
	})
	h.Subscribe(On("task:*"), func(EnrichedEvent) { calls++ })
	h.Start(ctx)

	h.Emit(ctx, TaskStarted{TaskID: "t-1"})
	h.Emit(ctx, TaskStarted{TaskID: "t-2"})
	assert.Equal(t, 2, calls)
}

func TestEventsStream(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.Events(ctx)
	h.Start(ctx)

	go func() {
		h.Emit(ctx, TaskStarted{TaskID: "t-1"})
		h.Emit(ctx, TaskCompleted{TaskID: "t-1", Success: true})
		h.Stop(ctx)
	}()

	var got []string
	for ev := range stream {
		got = append(got, ev.Type())
	}
	assert.Equal(t, []string{"task:start", "task:complete"}, got)
}
