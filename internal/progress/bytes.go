package progress

import (
	"fmt"
	"strconv"
	"strings"
)

var binaryUnits = []string{"KiB", "MiB", "GiB", "TiB"}

// FormatBytes formats b with binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / 1024
	unit := 0
	for v >= 1024 && unit < len(binaryUnits)-1 {
		v /= 1024
		unit++
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, binaryUnits[unit])
	}
	return fmt.Sprintf("%.1f %s", v, binaryUnits[unit])
}

var byteSuffixes = []struct {
	suffix     string
	multiplier float64
}{
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"TB", 1e12},
	{"GB", 1e9},
	{"MB", 1e6},
	{"KB", 1e3},
	{"B", 1},
}

// ParseBytes parses a human-readable byte string such as "512MiB" or "1GB".
// Binary suffixes are powers of 1024, SI suffixes powers of 1000.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	multiplier := 1.0
	for _, u := range byteSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	return int64(value * multiplier), nil
}
