package domain

import "time"

// NodeNum is the radio's 32-bit node address. BroadcastNodeNum addresses
// every node on the mesh.
type NodeNum = uint32

const BroadcastNodeNum NodeNum = 0xFFFFFFFF

// DirectChannel is the channel sentinel used for direct messages in
// snapshots and API payloads.
const DirectChannel = -1

type DeliveryState int

const (
	DeliveryPending DeliveryState = iota + 1
	DeliveryDelivered
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransitionDelivery reports whether a message may move from one delivery
// state to another. States only advance: pending -> delivered -> confirmed,
// with failed reachable from pending and delivered.
func CanTransitionDelivery(from, to DeliveryState) bool {
	if from == to {
		return false
	}
	switch to {
	case DeliveryDelivered:
		return from == DeliveryPending || from == 0
	case DeliveryConfirmed:
		return from == DeliveryPending || from == DeliveryDelivered || from == 0
	case DeliveryFailed:
		return from != DeliveryConfirmed && from != DeliveryFailed
	default:
		return false
	}
}

type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  int32
	Time      time.Time
}

type DeviceMetrics struct {
	BatteryLevel       *uint32
	Voltage            *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
	UptimeSeconds      *uint32
}

type Node struct {
	NodeNum   NodeNum
	NodeID    string
	LongName  string
	ShortName string
	HwModel   string
	Role      string
	PublicKey []byte

	IsLicensed bool
	SNR        *float64
	LastHeard  time.Time
	HopsAway   *uint32
	ViaMqtt    bool
	Channel    *uint32

	Position *Position
	Metrics  DeviceMetrics

	IsFavorite      bool
	IsIgnored       bool
	WelcomedAt      time.Time
	FirmwareVersion string
	RebootCount     *uint32

	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChannelRole int

const (
	ChannelRoleDisabled ChannelRole = iota
	ChannelRolePrimary
	ChannelRoleSecondary
)

type Channel struct {
	Index             int
	Name              string
	PSK               []byte
	Role              ChannelRole
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision *uint32
	UpdatedAt         time.Time
}

// Message is one delivered text or reaction. (FromNodeID, MessageID) is the
// idempotency key for upserts.
type Message struct {
	MessageID  uint32
	FromNodeID string
	ToNodeID   string
	Channel    int
	Text       string
	Timestamp  time.Time
	PortNum    uint32

	ReplyID uint32
	Emoji   bool

	HopStart uint32
	HopLimit uint32
	ViaMqtt  bool

	Delivery   DeliveryState
	AckFailed  bool
	FailReason string
	RequestID  uint32
	IsLocal    bool

	CreatedAt time.Time
}

// TracerouteRecord stores one traceroute reply. Route and RouteBack hold the
// intermediate node numbers; both nil means the request failed. SNR values
// are the raw wire scale (dB x 4) with SNRUnknown left untouched.
type TracerouteRecord struct {
	FromNodeNum NodeNum
	ToNodeNum   NodeNum
	Route       []uint32
	RouteBack   []uint32
	SNRTowards  []int32
	SNRBack     []int32
	Timestamp   time.Time
	CreatedAt   time.Time
}

func (t TracerouteRecord) Failed() bool {
	return t.Route == nil && t.RouteBack == nil
}

type TelemetryKind int

const (
	TelemetryDevice TelemetryKind = iota + 1
	TelemetryEnvironment
	TelemetryPower
)

type TelemetrySample struct {
	NodeNum   NodeNum
	Kind      TelemetryKind
	Timestamp time.Time

	BatteryLevel       *uint32
	Voltage            *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
	UptimeSeconds      *uint32

	Temperature        *float64
	RelativeHumidity   *float64
	BarometricPressure *float64
	IAQ                *float64

	Ch1Voltage *float64
	Ch1Current *float64
}

type NeighborEntry struct {
	NodeNum     NodeNum
	NeighborNum NodeNum
	SNR         float64
	LastRxTime  time.Time
	UpdatedAt   time.Time
}

// RawPacket keeps packets on ports the router does not understand for
// operator inspection.
type RawPacket struct {
	PacketID    uint32
	FromNodeNum NodeNum
	ToNodeNum   NodeNum
	PortNum     uint32
	Payload     []byte
	ReceivedAt  time.Time
}

// PendingUpgrade is a release newer than the running build, queued until an
// operator (or the auto-upgrade flow) acts on it.
type PendingUpgrade struct {
	Version    string
	URL        string
	Notes      string
	DetectedAt time.Time
}

type AuditEntry struct {
	ID       string
	Actor    string
	Action   string
	Resource string
	Details  string
	IP       string
	At       time.Time
}

type RequestKind int

const (
	RequestTextMessage RequestKind = iota + 1
	RequestTraceroute
	RequestPositionExchange
	RequestTelemetry
	RequestAdmin
)

func (k RequestKind) String() string {
	switch k {
	case RequestTextMessage:
		return "text-message"
	case RequestTraceroute:
		return "traceroute"
	case RequestPositionExchange:
		return "position-exchange"
	case RequestTelemetry:
		return "telemetry-request"
	case RequestAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

type SessionState string

const (
	SessionDisconnected     SessionState = "disconnected"
	SessionConnecting       SessionState = "connecting"
	SessionConfiguring      SessionState = "configuring"
	SessionConnected        SessionState = "connected"
	SessionNodeOffline      SessionState = "node_offline"
	SessionRebooting        SessionState = "rebooting"
	SessionUserDisconnected SessionState = "user_disconnected"
)
