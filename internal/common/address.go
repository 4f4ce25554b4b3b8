package common

import (
	"net"
	"strconv"
	"strings"
)

// ValidateAddress accepts an IP address, a DNS hostname, or either of them
// followed by ":port".
func ValidateAddress(field, address string) error {
	if len(address) > MaxAddressLength {
		return NewValidationError(field, "is too long")
	}
	host := address
	if h, port, err := net.SplitHostPort(address); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return NewValidationError(field, "has an invalid port")
		}
		host = h
	}
	if net.ParseIP(host) != nil || isHostname(host) {
		return nil
	}
	return NewValidationError(field, "must be an IP address or hostname, optionally with a port")
}

// isHostname reports whether s is a hostname made of RFC 1123 labels.
func isHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}
