package util

import (
	"fmt"
	"strings"
)

// NormalizeAddr returns fallback when addr is blank, otherwise addr.
func NormalizeAddr(addr, fallback string) string {
	if strings.TrimSpace(addr) == "" {
		return fallback
	}
	return addr
}

// HostPort joins a host and port for display and dialing.
func HostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
