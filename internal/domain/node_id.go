package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNodeID renders a node number in the canonical "!1234abcd" form.
func FormatNodeID(num NodeNum) string {
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID accepts "!hex8", "0x..." or bare decimal/hex node ids.
func ParseNodeID(raw string) (NodeNum, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("node id is empty")
	}
	if strings.HasPrefix(raw, "!") {
		v, err := strconv.ParseUint(strings.TrimPrefix(raw, "!"), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("parse node id %q: %w", raw, err)
		}

		return NodeNum(v), nil
	}
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		v, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("parse node id %q: %w", raw, err)
		}

		return NodeNum(v), nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse node id %q: %w", raw, err)
	}

	return NodeNum(v), nil
}

// NormalizeNodeID trims and rejects placeholder/broadcast node ids.
func NormalizeNodeID(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "unknown") || v == "!ffffffff" {
		return ""
	}

	return v
}
