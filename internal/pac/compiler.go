// Package pac renders a device's resolved rule set into a Proxy
// Auto-Configuration script. Compilation is a pure function of the device ID,
// the rules, and the rule-set version; identical inputs produce byte-identical
// documents.
package pac

import (
	"fmt"
	"strings"

	"github.com/edvin/pacgate/internal/model"
)

// ContentType is the media type for served PAC documents.
const ContentType = "application/x-ns-proxy-autoconfig"

// blackholeTarget is where blocked hosts are pointed. Nothing listens there.
const blackholeTarget = "PROXY 127.0.0.1:9"

// Document is a rendered PAC script, addressable by its cache key.
type Document struct {
	Key  string
	Body string
}

// CacheKey builds the cache key for a device at a rule-set version.
func CacheKey(deviceID, version string) string {
	return deviceID + "|" + version
}

// Compile renders the resolved rules into a PAC document. Rules are emitted
// in the order given; the first matching condition wins and unmatched hosts
// fall through to DIRECT. Zero rules compile to an all-DIRECT document.
func Compile(deviceID string, rules []model.Rule, version string) Document {
	var b strings.Builder

	fmt.Fprintf(&b, "// pacgate document for device %s (rules %s)\n", deviceID, version)
	b.WriteString("function FindProxyForURL(url, host) {\n")
	b.WriteString("    host = host.toLowerCase();\n")

	for _, r := range rules {
		fmt.Fprintf(&b, "    if (%s) return %q;\n", condition(r.Pattern), returnValue(r))
	}

	b.WriteString("    return \"DIRECT\";\n")
	b.WriteString("}\n")

	return Document{Key: CacheKey(deviceID, version), Body: b.String()}
}

// condition translates a rule pattern into a PAC boolean expression.
func condition(pattern string) string {
	pattern = strings.ToLower(pattern)

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok && !strings.ContainsAny(suffix, "*?") {
		// Suffix wildcard covers the apex domain and all subdomains.
		return fmt.Sprintf("host == %q || dnsDomainIs(host, %q)", suffix, "."+suffix)
	}
	if strings.ContainsAny(pattern, "*?") {
		return fmt.Sprintf("shExpMatch(host, %q)", pattern)
	}
	return fmt.Sprintf("host == %q", pattern)
}

func returnValue(r model.Rule) string {
	switch r.Action {
	case model.ActionProxy:
		return "PROXY " + r.Target
	case model.ActionBlock:
		return blackholeTarget
	default:
		return "DIRECT"
	}
}
