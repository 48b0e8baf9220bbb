package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedRealIP sets r.RemoteAddr to the client address. X-Real-IP and then
// the first X-Forwarded-For entry are honoured only when the connection
// comes from one of trustedCIDRs; otherwise the connection address is used.
// The port is always stripped, so RemoteAddr can key per-client state.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	trusted := parsePrefixes(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remote, ok := parseAddr(r.RemoteAddr)
			if ok {
				r.RemoteAddr = remote.String()
				if isTrusted(remote, trusted) {
					if client, ok := forwardedFor(r); ok {
						r.RemoteAddr = client.String()
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parsePrefixes accepts CIDRs and bare addresses; bad entries are logged and skipped.
func parsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("realip: invalid trusted proxy, skipping", "cidr", entry, "error", err)
			continue
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func forwardedFor(r *http.Request) (netip.Addr, bool) {
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return parseAddr(rip)
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(xff, ",")
	return parseAddr(strings.TrimSpace(first))
}

// parseAddr parses "host:port" or a bare address.
func parseAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
