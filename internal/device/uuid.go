package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Bluetooth SIG base UUID: 0000xxxx-0000-1000-8000-00805f9b34fb
const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID converts a UUID string to its canonical form.
// 16-bit and 32-bit short forms ("180d", "0x180D") and full UUIDs in the SIG base
// collapse to lowercase short hex; other 128-bit UUIDs become lowercase dashed form.
// Returns "" when the input is not a UUID.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	switch len(s) {
	case 4, 8:
		if !isHex(s) {
			return ""
		}
		if len(s) == 8 && strings.HasPrefix(s, "0000") {
			return s[4:]
		}
		return s
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	full := u.String()
	if strings.HasSuffix(full, sigBaseSuffix) {
		short := full[:8]
		if strings.HasPrefix(short, "0000") {
			return short[4:]
		}
		return short
	}
	return full
}

// ExpandUUID returns the 128-bit dashed form of a UUID. 16-bit and 32-bit
// short forms are placed in the SIG base. Returns "" when the input is not a UUID.
func ExpandUUID(s string) string {
	n := NormalizeUUID(s)
	switch len(n) {
	case 0:
		return ""
	case 4:
		return "0000" + n + sigBaseSuffix
	case 8:
		return n + sigBaseSuffix
	default:
		return n
	}
}

// NormalizeUUIDs normalizes a slice of UUID strings
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// EqualUUID reports whether two UUID strings name the same attribute
func EqualUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
