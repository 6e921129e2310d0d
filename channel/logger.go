package channel

import (
	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/hub"
)

// NewLoggerChannel builds a channel that mirrors the run's event stream into
// structured logs: node and flow lifecycle at info, session traffic at
// debug, failures at warn.
func NewLoggerChannel(logger *zap.Logger) hub.ChannelDefinition {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "logger_channel"))

	return hub.ChannelDefinition{
		Name: "logger",
		On: map[string]hub.ChannelHandler{
			"flow:*": func(cc hub.ChannelContext) error {
				log.Info("flow event", eventFields(cc.Event)...)
				return nil
			},
			"node:failed": func(cc hub.ChannelContext) error {
				log.Warn("node failed", eventFields(cc.Event)...)
				return nil
			},
			"node:*": func(cc hub.ChannelContext) error {
				if cc.Event.Type() == "node:failed" {
					return nil
				}
				log.Info("node event", eventFields(cc.Event)...)
				return nil
			},
			"task:*": func(cc hub.ChannelContext) error {
				log.Debug("task event", eventFields(cc.Event)...)
				return nil
			},
			"session:*": func(cc hub.ChannelContext) error {
				log.Debug("session event", eventFields(cc.Event)...)
				return nil
			},
		},
		OnStart: func(cc hub.ChannelContext) error {
			log.Debug("logger channel attached")
			return nil
		},
		OnComplete: func(cc hub.ChannelContext) error {
			log.Debug("logger channel detached")
			return nil
		},
	}
}

func eventFields(ev hub.EnrichedEvent) []zap.Field {
	fields := []zap.Field{
		zap.String("event_type", ev.Type()),
		zap.String("event_id", ev.ID),
		zap.String("session_id", ev.Context.SessionID),
	}
	if ev.Context.Task != nil {
		fields = append(fields, zap.String("task_id", ev.Context.Task.ID))
	}
	if ev.Context.Agent != nil {
		fields = append(fields, zap.String("agent", ev.Context.Agent.Name))
	}
	fields = append(fields, zap.Any("event", ev.Event))
	return fields
}
