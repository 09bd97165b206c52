package meshproto

// Message structs mirror the subset of the Meshtastic schema the monitor
// consumes. Records the core only replays (Config, ModuleConfig, DeviceUI)
// are carried as raw payload bytes and never interpreted.

const (
	// SNRUnknown is the raw route-SNR sentinel (dB x 4) emitted for hops
	// whose SNR is not known, typically MQTT segments or older firmware.
	SNRUnknown int32 = -128

	// WantConfigAll requests every config section during session bootstrap.
	WantConfigAll uint32 = 0xFFFFFFFF
)

// FromRadioKind identifies which variant a FromRadio payload carries.
type FromRadioKind int

const (
	KindNone FromRadioKind = iota
	KindPacket
	KindMyInfo
	KindNodeInfo
	KindConfig
	KindLogRecord
	KindConfigComplete
	KindRebooted
	KindModuleConfig
	KindChannel
	KindQueueStatus
	KindXModem
	KindMetadata
	KindMqttProxy
	KindFileInfo
	KindClientNotification
	KindDeviceUIConfig
)

func (k FromRadioKind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindMyInfo:
		return "my_info"
	case KindNodeInfo:
		return "node_info"
	case KindConfig:
		return "config"
	case KindLogRecord:
		return "log_record"
	case KindConfigComplete:
		return "config_complete_id"
	case KindRebooted:
		return "rebooted"
	case KindModuleConfig:
		return "module_config"
	case KindChannel:
		return "channel"
	case KindQueueStatus:
		return "queue_status"
	case KindXModem:
		return "xmodem"
	case KindMetadata:
		return "metadata"
	case KindMqttProxy:
		return "mqtt_proxy"
	case KindFileInfo:
		return "file_info"
	case KindClientNotification:
		return "client_notification"
	case KindDeviceUIConfig:
		return "device_ui_config"
	default:
		return "none"
	}
}

// FromRadio is one device-to-host record. Raw always holds the undecoded
// payload so callers can re-frame it verbatim.
type FromRadio struct {
	Kind FromRadioKind
	Raw  []byte

	ID               uint32
	Packet           *MeshPacket
	MyInfo           *MyNodeInfo
	NodeInfo         *NodeInfo
	Channel          *Channel
	QueueStatus      *QueueStatus
	Metadata         *DeviceMetadata
	LogRecord        *LogRecord
	ConfigCompleteID uint32
	Rebooted         bool
}

// ToRadio is one host-to-device record.
type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID uint32
	Disconnect   bool
	Heartbeat    bool
}

type MeshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	Decoded   *Data
	Encrypted []byte
	ID        uint32
	RxTime    uint32
	RxSnr     float32
	HopLimit  uint32
	WantAck   bool
	Priority  uint32
	RxRssi    int32
	ViaMqtt   bool
	HopStart  uint32

	PublicKey    []byte
	PkiEncrypted bool
}

type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
	Bitfield     *uint32
}

type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
	DeviceID      []byte
	PioEnv        string
}

type NodeInfo struct {
	Num           uint32
	User          *User
	Position      *Position
	Snr           float32
	LastHeard     uint32
	DeviceMetrics *DeviceMetrics
	Channel       uint32
	ViaMqtt       bool
	HopsAway      *uint32
	IsFavorite    bool
	IsIgnored     bool
}

type User struct {
	ID         string
	LongName   string
	ShortName  string
	Macaddr    []byte
	HwModel    uint32
	IsLicensed bool
	Role       uint32
	PublicKey  []byte
}

type Position struct {
	LatitudeI     *int32
	LongitudeI    *int32
	Altitude      *int32
	Time          uint32
	PrecisionBits uint32
}

// Latitude converts the wire integer form (degrees x 1e7) to degrees.
func (p *Position) Latitude() float64 {
	if p.LatitudeI == nil {
		return 0
	}

	return IToDegrees(*p.LatitudeI)
}

func (p *Position) Longitude() float64 {
	if p.LongitudeI == nil {
		return 0
	}

	return IToDegrees(*p.LongitudeI)
}

type DeviceMetrics struct {
	BatteryLevel       *uint32
	Voltage            *float32
	ChannelUtilization *float32
	AirUtilTx          *float32
	UptimeSeconds      *uint32
}

type EnvironmentMetrics struct {
	Temperature        *float32
	RelativeHumidity   *float32
	BarometricPressure *float32
	Voltage            *float32
	Current            *float32
	IAQ                *uint32
}

type PowerMetrics struct {
	Ch1Voltage *float32
	Ch1Current *float32
	Ch2Voltage *float32
	Ch2Current *float32
	Ch3Voltage *float32
	Ch3Current *float32
}

type Telemetry struct {
	Time               uint32
	DeviceMetrics      *DeviceMetrics
	EnvironmentMetrics *EnvironmentMetrics
	PowerMetrics       *PowerMetrics
}

type RouteDiscovery struct {
	Route      []uint32
	SnrTowards []int32
	RouteBack  []uint32
	SnrBack    []int32
}

// RoutingError mirrors the Routing.Error reason enum.
type RoutingError int32

const (
	RoutingNone            RoutingError = 0
	RoutingNoRoute         RoutingError = 1
	RoutingGotNak          RoutingError = 2
	RoutingTimeout         RoutingError = 3
	RoutingNoInterface     RoutingError = 4
	RoutingMaxRetransmit   RoutingError = 5
	RoutingNoChannel       RoutingError = 6
	RoutingTooLarge        RoutingError = 7
	RoutingNoResponse      RoutingError = 8
	RoutingDutyCycleLimit  RoutingError = 9
	RoutingBadRequest      RoutingError = 32
	RoutingNotAuthorized   RoutingError = 33
	RoutingPkiFailed       RoutingError = 34
	RoutingPkiUnknownKey   RoutingError = 35
	RoutingBadSessionKey   RoutingError = 36
	RoutingKeyUnauthorized RoutingError = 37
	RoutingRateLimit       RoutingError = 38
)

func (e RoutingError) String() string {
	switch e {
	case RoutingNone:
		return "NONE"
	case RoutingNoRoute:
		return "NO_ROUTE"
	case RoutingGotNak:
		return "GOT_NAK"
	case RoutingTimeout:
		return "TIMEOUT"
	case RoutingNoInterface:
		return "NO_INTERFACE"
	case RoutingMaxRetransmit:
		return "MAX_RETRANSMIT"
	case RoutingNoChannel:
		return "NO_CHANNEL"
	case RoutingTooLarge:
		return "TOO_LARGE"
	case RoutingNoResponse:
		return "NO_RESPONSE"
	case RoutingDutyCycleLimit:
		return "DUTY_CYCLE_LIMIT"
	case RoutingBadRequest:
		return "BAD_REQUEST"
	case RoutingNotAuthorized:
		return "NOT_AUTHORIZED"
	case RoutingPkiFailed:
		return "PKI_FAILED"
	case RoutingPkiUnknownKey:
		return "PKI_UNKNOWN_PUBKEY"
	case RoutingBadSessionKey:
		return "ADMIN_BAD_SESSION_KEY"
	case RoutingKeyUnauthorized:
		return "ADMIN_PUBLIC_KEY_UNAUTHORIZED"
	case RoutingRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

type Routing struct {
	RouteRequest *RouteDiscovery
	RouteReply   *RouteDiscovery
	ErrorReason  RoutingError
	HasError     bool
}

type ChannelRole uint32

const (
	ChannelDisabled  ChannelRole = 0
	ChannelPrimary   ChannelRole = 1
	ChannelSecondary ChannelRole = 2
)

type ChannelSettings struct {
	ChannelNum      uint32
	PSK             []byte
	Name            string
	ID              uint32
	UplinkEnabled   bool
	DownlinkEnabled bool
	ModuleSettings  *ModuleSettings
}

type ModuleSettings struct {
	PositionPrecision *uint32
}

type Channel struct {
	Index    int32
	Settings *ChannelSettings
	Role     ChannelRole
}

type QueueStatus struct {
	Res          int32
	Free         uint32
	MaxLen       uint32
	MeshPacketID uint32
}

type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	CanShutdown        bool
	HasWifi            bool
	HasBluetooth       bool
	HasEthernet        bool
	Role               uint32
	HwModel            uint32
}

type LogRecord struct {
	Message string
	Time    uint32
	Source  string
	Level   uint32
}

type NeighborInfo struct {
	NodeID                    uint32
	LastSentByID              uint32
	NodeBroadcastIntervalSecs uint32
	Neighbors                 []Neighbor
}

type Neighbor struct {
	NodeID     uint32
	Snr        float32
	LastRxTime uint32
}

type Paxcount struct {
	Wifi   uint32
	Ble    uint32
	Uptime uint32
}

// DegreesToI converts degrees to the wire integer form (x 1e7, rounded).
func DegreesToI(deg float64) int32 {
	if deg >= 0 {
		return int32(deg*1e7 + 0.5)
	}

	return int32(deg*1e7 - 0.5)
}

// IToDegrees is the inverse of DegreesToI.
func IToDegrees(i int32) float64 {
	return float64(i) * 1e-7
}
