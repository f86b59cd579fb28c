package domain

import "testing"

func TestParseCompactAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100K", "100000"},
		{"20.8K", "20800"},
		{"5.7M", "5700000"},
		{"1.25B", "1250000000"},
		{"273", "273"},
		{"6.3K%", "6300"},
		{" 28.7 ", "28.7"},
	}

	for _, tt := range tests {
		got, err := ParseCompactAmount(tt.in)
		if err != nil {
			t.Fatalf("ParseCompactAmount(%q) failed: %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseCompactAmount(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestParseCompactAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "K", "abc", "1.2.3M"} {
		if _, err := ParseCompactAmount(in); err == nil {
			t.Errorf("ParseCompactAmount(%q) expected error", in)
		}
	}
}

func TestIsSolanaAddress(t *testing.T) {
	valid := []string{
		"43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump",
		"So11111111111111111111111111111111111111112",
	}
	for _, s := range valid {
		if !IsSolanaAddress(s) {
			t.Errorf("IsSolanaAddress(%q) = false, want true", s)
		}
	}

	invalid := []string{"", "ADDR123", "0OIl", "abc"}
	for _, s := range invalid {
		if IsSolanaAddress(s) {
			t.Errorf("IsSolanaAddress(%q) = true, want false", s)
		}
	}
}

func TestIsTokenAddress(t *testing.T) {
	for _, s := range []string{"ADDR123", "43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump", "0OIl"} {
		if !IsTokenAddress(s) {
			t.Errorf("IsTokenAddress(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "not-an-address", "ADDR 123", "ADDR_1", "ÅDDR"} {
		if IsTokenAddress(s) {
			t.Errorf("IsTokenAddress(%q) = true, want false", s)
		}
	}
}
