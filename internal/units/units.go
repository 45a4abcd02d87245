// Package units provides shared constants and formatting for byte quantities.
package units

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary byte-quantity constants.
const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// HumanBytes formats a byte count using binary units, e.g. "1.5 GiB".
// Counts below 1 KiB are reported as plain bytes.
func HumanBytes(n int64) string {
	switch {
	case n >= GiB:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(GiB))
	case n >= MiB:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(MiB))
	case n >= KiB:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// ParseBytes parses a byte quantity like "512MiB", "2 GiB" or a plain
// integer count of bytes.
func ParseBytes(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"GiB", GiB}, {"GB", GiB},
		{"MiB", MiB}, {"MB", MiB},
		{"KiB", KiB}, {"KB", KiB},
		{"B", 1},
	} {
		if strings.HasSuffix(trimmed, unit.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			multiplier = unit.factor
			break
		}
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte quantity %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid byte quantity %q: negative", s)
	}
	return int64(value * float64(multiplier)), nil
}
