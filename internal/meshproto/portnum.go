package meshproto

import "strings"

// PortNum is the application port of a mesh packet payload. Routing
// decisions are always made on the numeric value.
type PortNum uint32

const (
	PortUnknown          PortNum = 0
	PortTextMessage      PortNum = 1
	PortRemoteHardware   PortNum = 2
	PortPosition         PortNum = 3
	PortNodeInfo         PortNum = 4
	PortRouting          PortNum = 5
	PortAdmin            PortNum = 6
	PortTextCompressed   PortNum = 7
	PortWaypoint         PortNum = 8
	PortAudio            PortNum = 9
	PortDetectionSensor  PortNum = 10
	PortAlert            PortNum = 11
	PortReply            PortNum = 32
	PortIPTunnel         PortNum = 33
	PortPaxcounter       PortNum = 34
	PortSerial           PortNum = 64
	PortStoreForward     PortNum = 65
	PortRangeTest        PortNum = 66
	PortTelemetry        PortNum = 67
	PortZPS              PortNum = 68
	PortSimulator        PortNum = 69
	PortTraceroute       PortNum = 70
	PortNeighborInfo     PortNum = 71
	PortAtakPlugin       PortNum = 72
	PortMapReport        PortNum = 73
	PortPowerStress      PortNum = 74
	PortPrivate          PortNum = 256
	PortAtakForwarder    PortNum = 257
	PortMax              PortNum = 511
)

var portNames = map[PortNum]string{
	PortUnknown:         "UNKNOWN_APP",
	PortTextMessage:     "TEXT_MESSAGE_APP",
	PortRemoteHardware:  "REMOTE_HARDWARE_APP",
	PortPosition:        "POSITION_APP",
	PortNodeInfo:        "NODEINFO_APP",
	PortRouting:         "ROUTING_APP",
	PortAdmin:           "ADMIN_APP",
	PortTextCompressed:  "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypoint:        "WAYPOINT_APP",
	PortAudio:           "AUDIO_APP",
	PortDetectionSensor: "DETECTION_SENSOR_APP",
	PortAlert:           "ALERT_APP",
	PortReply:           "REPLY_APP",
	PortIPTunnel:        "IP_TUNNEL_APP",
	PortPaxcounter:      "PAXCOUNTER_APP",
	PortSerial:          "SERIAL_APP",
	PortStoreForward:    "STORE_FORWARD_APP",
	PortRangeTest:       "RANGE_TEST_APP",
	PortTelemetry:       "TELEMETRY_APP",
	PortZPS:             "ZPS_APP",
	PortSimulator:       "SIMULATOR_APP",
	PortTraceroute:      "TRACEROUTE_APP",
	PortNeighborInfo:    "NEIGHBORINFO_APP",
	PortAtakPlugin:      "ATAK_PLUGIN",
	PortMapReport:       "MAP_REPORT_APP",
	PortPowerStress:     "POWERSTRESS_APP",
	PortPrivate:         "PRIVATE_APP",
	PortAtakForwarder:   "ATAK_FORWARDER",
}

var portByName = func() map[string]PortNum {
	m := make(map[string]PortNum, len(portNames))
	for num, name := range portNames {
		m[name] = num
	}

	return m
}()

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}

	return "UNKNOWN_APP"
}

// Known reports whether the numeric port belongs to the known set.
func (p PortNum) Known() bool {
	_, ok := portNames[p]

	return ok
}

// NormalizePortName maps an enum name to its numeric port. Unknown names
// normalize to PortUnknown.
func NormalizePortName(name string) PortNum {
	if num, ok := portByName[strings.TrimSpace(strings.ToUpper(name))]; ok {
		return num
	}

	return PortUnknown
}

// NormalizePort clamps an arbitrary wire value to the known numeric set.
func NormalizePort(raw uint32) PortNum {
	p := PortNum(raw)
	if p.Known() {
		return p
	}

	return PortUnknown
}
