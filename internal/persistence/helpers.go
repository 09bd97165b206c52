package persistence

import (
	"encoding/json"
	"time"
)

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}

	return 0
}

// Route and SNR arrays are stored as JSON text columns; nil stays NULL so
// "failed traceroute" (both routes absent) survives the round trip.
func encodeUint32s(vals []uint32) any {
	if vals == nil {
		return nil
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return nil
	}

	return string(raw)
}

func decodeUint32s(raw *string) []uint32 {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []uint32
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}

	return out
}

func encodeInt32s(vals []int32) any {
	if vals == nil {
		return nil
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return nil
	}

	return string(raw)
}

func decodeInt32s(raw *string) []int32 {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []int32
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}

	return out
}
