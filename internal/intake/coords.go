package intake

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseCoordinate reads a latitude or longitude cell. Unparseable, zero and
// non-finite values return fallback.
func ParseCoordinate(raw string, fallback float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		prefix := leadingNumber.FindString(raw)
		if prefix == "" {
			return fallback
		}
		value, err = strconv.ParseFloat(prefix, 64)
		if err != nil {
			return fallback
		}
	}
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback
	}
	return value
}
