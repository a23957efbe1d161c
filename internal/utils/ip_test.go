package utils

import (
	"testing"
)

func TestIsAllowedIP(t *testing.T) {
	allowed := []string{
		"185.71.76.0/27",
		"2a02:5180::/32",
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"185.71.76.5", true},
		{"185.71.76.31", true},
		{"185.71.76.32", false},
		{"8.8.8.8", false},
		{"2a02:5180::1", true},
		{"2a03::1", false},
		{"not-an-ip", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAllowedIP(tt.ip, allowed); got != tt.want {
			t.Errorf("IsAllowedIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestIsAllowedIPSkipsInvalidCIDR(t *testing.T) {
	if IsAllowedIP("10.0.0.1", []string{"bad-cidr", "10.0.0.0/8"}) != true {
		t.Error("valid CIDR after an invalid one should still match")
	}
}
