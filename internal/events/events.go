package events

import (
	"time"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
)

// SessionStatus is a bus snapshot of the device session lifecycle.
type SessionStatus struct {
	State     string
	Transport string
	Target    string
	LocalNode domain.NodeNum
	Err       string
	Timestamp time.Time
}

// RadioFrom carries one ingress record: the decoded record plus the exact
// payload bytes, so subscribers can re-frame it without re-encoding.
type RadioFrom struct {
	Record *meshproto.FromRadio
	Raw    []byte
}

// RadioOut carries egress payload diagnostics for the debug surface.
type RadioOut struct {
	Len int
	Hex string
}

// NodeUpdated fires after a node upsert reaches the store.
type NodeUpdated struct {
	Node *domain.Node
}

// ChannelUpdated fires after a channel config record is stored.
type ChannelUpdated struct {
	Channel *domain.Channel
}

// MessageSaved fires after a message insert or delivery-state change.
type MessageSaved struct {
	Message  *domain.Message
	IsUpdate bool
}

// TracerouteRecorded fires after a traceroute response or timeout is stored.
type TracerouteRecorded struct {
	Record *domain.TracerouteRecord
}

// TelemetrySampled fires after a telemetry sample is stored.
type TelemetrySampled struct {
	Sample *domain.TelemetrySample
}

// RequestResolved fires when a tracked request gets its single resolution.
type RequestResolved struct {
	RequestID uint32
	Kind      domain.RequestKind
	Outcome   string
	Err       string
}

// AuditRecorded fires after a control-plane action is written to the audit
// log, virtual node admin traffic included.
type AuditRecorded struct {
	Entry *domain.AuditEntry
}
