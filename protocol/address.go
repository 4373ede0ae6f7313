package protocol

import (
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the port BRS nodes serve the peer protocol on unless they announce otherwise.
const DefaultPort = 8123

// NormalizeAddress returns the canonical host:port form of a peer address. A port is appended only when no port
// follows the host, where an IPv6 host is the part enclosed in brackets.
func NormalizeAddress(addr string, defaultPort int) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr[strings.LastIndex(addr, "]")+1:], ":") {
		addr += ":" + strconv.Itoa(defaultPort)
	}
	return addr
}

// Host returns the host part of a normalized address with any IPv6 brackets removed.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}
