package auth

import (
	"encoding/base64"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/gamelist1990/FileShare/internal/proxybridge"
)

// ClientIP extracts the caller's address for rate limiting, stats, and
// registration records. When the proxy bridge is enforced the
// X-Proxy-Protocol-V2 header (base64 or hex encoded v2 chain) is
// authoritative; otherwise the TCP peer wins, then the common
// forwarding headers.
func ClientIP(r *http.Request, proxyV2 bool) string {
	if proxyV2 {
		if ip := ipFromProxyHeader(r.Header.Get("X-Proxy-Protocol-V2")); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "unknown"
}

func ipFromProxyHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	var raw []byte
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		raw = b
	} else if b, err := hex.DecodeString(v); err == nil {
		raw = b
	} else {
		return ""
	}
	_, _, client, err := proxybridge.ParseChain(raw)
	if err != nil || client == nil {
		return ""
	}
	return client.String()
}
