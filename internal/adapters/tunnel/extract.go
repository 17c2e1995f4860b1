package tunnel

import (
	"net"
	"regexp"
	"strings"
)

var dottedQuad = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

// Log lines that carry an address assignment. The daemon never labels
// the DHCP result consistently, so we match a handful of phrasings.
var assignKeywords = []string{
	"virtual ip",
	"assigned ip",
	"dhcp",
	"got ip",
	"ipv4 address",
	"ip addr",
	"my ipv4",
	"ipv4=",
}

// Lines that contain an address but describe something else entirely:
// the physical interface, listener bindings, config echoes.
var excludeMarkers = []string{
	"local_addr",
	"local:",
	`ipv4 = "`,
	"listener",
}

// extractVirtualIP scans one daemon log line for a freshly assigned
// overlay address. Returns "" when the line carries none.
func extractVirtualIP(line string) string {
	lower := strings.ToLower(line)

	matched := false
	for _, kw := range assignKeywords {
		if strings.Contains(lower, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return ""
	}
	for _, ex := range excludeMarkers {
		if strings.Contains(lower, ex) {
			return ""
		}
	}

	for _, candidate := range dottedQuad.FindAllString(line, -1) {
		if isUsableVirtualIP(candidate) {
			return candidate
		}
	}
	return ""
}

// isUsableVirtualIP accepts only addresses the DHCP allocator can
// actually hand out: RFC 1918, not loopback, host octet 1..254.
func isUsableVirtualIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil || ip.IsLoopback() || !ip.IsPrivate() {
		return false
	}
	last := v4[3]
	return last >= 1 && last <= 254
}
