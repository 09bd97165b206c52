package events

const (
	TopicSessionStatus = "session.status"
	TopicRadioFrom     = "radio.from"
	TopicRadioOut      = "radio.out"
	TopicNodeUpdated   = "mesh.node"
	TopicChannelUpdate = "mesh.channel"
	TopicMessageSaved  = "mesh.message"
	TopicTraceroute    = "mesh.traceroute"
	TopicTelemetry     = "mesh.telemetry"
	TopicRequestDone   = "request.resolved"
	TopicAudit         = "audit.entry"
)
