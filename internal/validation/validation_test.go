package validation

import "testing"

func TestClampPrice(t *testing.T) {
	tests := []struct {
		price int64
		want  int64
	}{
		{100000, 140000},
		{999999, 270000},
		{200000, 200000},
		{140000, 140000},
		{270000, 270000},
		{0, 140000},
		{-1, 140000},
	}

	for _, tt := range tests {
		if got := ClampPrice(tt.price); got != tt.want {
			t.Fatalf("ClampPrice(%d) = %d, want %d", tt.price, got, tt.want)
		}
	}
}

func TestIsValidSerialNumber(t *testing.T) {
	tests := []struct {
		serial string
		want   bool
	}{
		{"VCS-2026-001", true},
		{"abc123", true},
		{"ABCDEF", true},
		{"short", false},
		{"", false},
		{"has space 123", false},
		{"under_score1", false},
		{"unicode-серия", false},
	}

	for _, tt := range tests {
		if got := IsValidSerialNumber(tt.serial); got != tt.want {
			t.Fatalf("IsValidSerialNumber(%q) = %v, want %v", tt.serial, got, tt.want)
		}
	}
}
