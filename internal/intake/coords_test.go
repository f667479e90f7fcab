package intake

import "testing"

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"14.4512", 14.4512},
		{" 120.99 ", 120.99},
		{"14.45abc", 14.45},
		{"", DefaultLat},
		{"north", DefaultLat},
		{"0", DefaultLat},
		{"NaN", DefaultLat},
	}
	for _, tt := range tests {
		if got := ParseCoordinate(tt.raw, DefaultLat); got != tt.want {
			t.Errorf("ParseCoordinate(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
