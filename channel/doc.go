// Package channel ships ready-made hub channels: structured logging of the
// event stream, Prometheus instrumentation, and WebSocket fan-out to
// external observers. Channels attach through hub.RegisterChannel and only
// observe events while the hub is started.
package channel
