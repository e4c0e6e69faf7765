package model

import "testing"

func TestParseCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"49.99", 4999},
		{"99.00", 9900},
		{"1234.5", 123450},
		{"10", 1000},
		{"0", 0},
		{"", 0},
		{"not-a-number", 0},
		{"-5.25", -525},
	}

	for _, tt := range tests {
		if got := ParseCents(tt.in); got != tt.want {
			t.Errorf("ParseCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"8900", 8900},
		{"123456", 123456},
		{"", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		if got := ParseMinorUnits(tt.in); got != tt.want {
			t.Errorf("ParseMinorUnits(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{4999, "49.99"},
		{9900, "99.00"},
		{5, "0.05"},
		{0, "0.00"},
		{-525, "-5.25"},
	}

	for _, tt := range tests {
		if got := FormatCents(tt.in); got != tt.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCentsFromFloat(t *testing.T) {
	if got := CentsFromFloat(49.99); got != 4999 {
		t.Errorf("CentsFromFloat(49.99) = %d, want 4999", got)
	}
	// 0.1+0.2 style float noise must round, not truncate
	if got := CentsFromFloat(29.9999999999); got != 3000 {
		t.Errorf("CentsFromFloat(29.9999999999) = %d, want 3000", got)
	}
}
