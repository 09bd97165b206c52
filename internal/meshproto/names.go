package meshproto

import "fmt"

var roleNames = map[uint32]string{
	0:  "CLIENT",
	1:  "CLIENT_MUTE",
	2:  "ROUTER",
	3:  "ROUTER_CLIENT",
	4:  "REPEATER",
	5:  "TRACKER",
	6:  "SENSOR",
	7:  "TAK",
	8:  "CLIENT_HIDDEN",
	9:  "LOST_AND_FOUND",
	10: "TAK_TRACKER",
	11: "ROUTER_LATE",
}

// RoleName maps a device role number to its wire enum name, or the numeric
// value for roles this build does not know.
func RoleName(role uint32) string {
	if name, ok := roleNames[role]; ok {
		return name
	}

	return fmt.Sprintf("ROLE_%d", role)
}

// RoleNumber is the inverse of RoleName. Unknown names map to 0 (CLIENT).
func RoleNumber(name string) uint32 {
	for num, n := range roleNames {
		if n == name {
			return num
		}
	}
	var num uint32
	if _, err := fmt.Sscanf(name, "ROLE_%d", &num); err == nil {
		return num
	}

	return 0
}

var hardwareNames = map[uint32]string{
	0:  "UNSET",
	1:  "TLORA_V2",
	2:  "TLORA_V1",
	3:  "TLORA_V2_1_1P6",
	4:  "TBEAM",
	5:  "HELTEC_V2_0",
	6:  "TBEAM_V0P7",
	7:  "T_ECHO",
	8:  "TLORA_V1_1P3",
	9:  "RAK4631",
	10: "HELTEC_V2_1",
	11: "HELTEC_V1",
	12: "LILYGO_TBEAM_S3_CORE",
	13: "RAK11200",
	14: "NANO_G1",
	15: "TLORA_V2_1_1P8",
	16: "TLORA_T3_S3",
	17: "NANO_G1_EXPLORER",
	18: "NANO_G2_ULTRA",
	25: "STATION_G1",
	26: "RAK11310",
	29: "CANARYONE",
	30: "RP2040_LORA",
	31: "STATION_G2",
	37: "PORTDUINO",
	39: "DIY_V1",
	42: "M5STACK",
	43: "HELTEC_V3",
	44: "HELTEC_WSL_V3",
	47: "RPI_PICO",
	48: "HELTEC_WIRELESS_TRACKER",
	49: "HELTEC_WIRELESS_PAPER",
	50: "T_DECK",
	51: "T_WATCH_S3",
	52: "PICOMPUTER_S3",
	53: "HELTEC_HT62",
	63: "NRF52_PROMICRO_DIY",
	69: "HELTEC_MESH_NODE_T114",
	70: "SENSECAP_INDICATOR",
	71: "TRACKER_T1000_E",
	72: "RAK3172",
	73: "WIO_E5",
}

// HardwareModelName maps a hardware model number to its enum name, or a
// numeric placeholder for unknown boards.
func HardwareModelName(model uint32) string {
	if name, ok := hardwareNames[model]; ok {
		return name
	}

	return fmt.Sprintf("HW_%d", model)
}

// HardwareModelNumber is the inverse of HardwareModelName, including the
// numeric placeholder form.
func HardwareModelNumber(name string) uint32 {
	for num, n := range hardwareNames {
		if n == name {
			return num
		}
	}
	var num uint32
	if _, err := fmt.Sscanf(name, "HW_%d", &num); err == nil {
		return num
	}

	return 0
}
