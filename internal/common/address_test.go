package common

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		address string
		ok      bool
	}{
		{"10.0.0.7", true},
		{"10.0.0.7:8080", true},
		{"fe80::1", true},
		{"[fe80::1]:443", true},
		{"sensor-01.plant.local", true},
		{"gateway:22", true},
		{"localhost.", true},
		{"10.0.0.7:0", false},
		{"10.0.0.7:70000", false},
		{"host:port", false},
		{"-bad.example", false},
		{"bad-.example", false},
		{"a..b", false},
		{"has space", false},
		{"http://10.0.0.7", false},
		{strings.Repeat("a", 64) + ".example", false},
		{strings.Repeat("a", MaxAddressLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			err := ValidateAddress("address", tt.address)
			if tt.ok && err != nil {
				t.Fatalf("expected %q to be valid, got %v", tt.address, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tt.address)
				}
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
			}
		})
	}
}
