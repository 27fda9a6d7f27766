// Package normalize canonicalizes raw scanner and user-supplied strings into
// the stable forms the inventory store keys on (spec §4.1). Every exported
// function returns errs.ErrNormalizationFailed, wrapped with context, on
// invalid input so callers can skip the record and audit the failure.
package normalize

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/shadowpulse/reconengine/internal/errs"
)

// Host lowercases, strips a trailing dot, strips any scheme or port, and
// validates the result as a syntactically valid DNS name. Used for both
// `subdomain` and `host` asset types (spec §4.1).
func Host(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" {
		return "", fmt.Errorf("%w: empty host", errs.ErrNormalizationFailed)
	}
	if idx := strings.Index(h, "://"); idx >= 0 {
		h = h[idx+3:]
	}
	if idx := strings.IndexAny(h, "/?#"); idx >= 0 {
		h = h[:idx]
	}
	if strings.Contains(h, "@") {
		h = h[strings.LastIndex(h, "@")+1:]
	}
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.TrimSuffix(h, ".")
	if !isValidDNSName(h) {
		return "", fmt.Errorf("%w: invalid dns name %q", errs.ErrNormalizationFailed, raw)
	}
	return h, nil
}

// isValidDNSName checks RFC 1035-ish label syntax: 1-63 chars per label,
// alphanumeric and hyphen, no leading/trailing hyphen, at least one dot
// unless the input is a bare label (e.g. "localhost").
func isValidDNSName(h string) bool {
	if h == "" || len(h) > 253 {
		return false
	}
	labels := strings.Split(h, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

// IPOptions controls whether private/loopback addresses are accepted.
type IPOptions struct {
	AllowPrivate bool
}

// IP parses raw as IPv4 or IPv6, rejects loopback and RFC1918 unless opts
// allows it, and returns the canonical zero-compressed textual form
// (spec §4.1).
func IP(raw string, opts IPOptions) (string, error) {
	s := strings.TrimSpace(raw)
	addr := net.ParseIP(s)
	if addr == nil {
		return "", fmt.Errorf("%w: invalid ip %q", errs.ErrNormalizationFailed, raw)
	}
	if !opts.AllowPrivate && (addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
		return "", fmt.Errorf("%w: private/loopback ip %q not permitted by scope", errs.ErrNormalizationFailed, raw)
	}
	return addr.String(), nil
}

// defaultPortFor returns the elided default port for a scheme, or "" if the
// scheme has no default.
func defaultPortFor(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// URL lowercases scheme and host, elides the default port for http/https,
// normalizes the path (collapses "..", strips a trailing slash only when
// the path is root), and preserves query/fragment verbatim (spec §4.1).
func URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid url %q", errs.ErrNormalizationFailed, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host, port, splitErr := net.SplitHostPort(u.Host)
	if splitErr != nil {
		host = u.Host
		port = ""
	}
	host = strings.ToLower(host)
	if port != "" && port == defaultPortFor(u.Scheme) {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	u.Path = normalizePath(u.Path)
	return u.String(), nil
}

func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	segments := strings.Split(p, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(cleaned) > 0 && cleaned[len(cleaned)-1] != "" {
				cleaned = cleaned[:len(cleaned)-1]
			}
		default:
			cleaned = append(cleaned, seg)
		}
	}
	joined := strings.Join(cleaned, "/")
	if joined != "/" {
		joined = strings.TrimSuffix(joined, "/")
	}
	if joined == "" {
		joined = "/"
	}
	return joined
}

// Proto lowercases and validates a transport protocol string.
func Proto(raw string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	if p != "tcp" && p != "udp" {
		return "", fmt.Errorf("%w: invalid proto %q", errs.ErrNormalizationFailed, raw)
	}
	return p, nil
}

// Port validates and returns a TCP/UDP port number in [1, 65535].
func Port(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", errs.ErrNormalizationFailed, raw)
	}
	return n, nil
}

// Service normalizes a (host, port, proto) tuple per the host and integer
// port rules (spec §4.1).
func Service(rawHost, rawPort, rawProto string) (host string, port int, proto string, err error) {
	host, err = Host(rawHost)
	if err != nil {
		return "", 0, "", err
	}
	port, err = Port(rawPort)
	if err != nil {
		return "", 0, "", err
	}
	proto, err = Proto(rawProto)
	if err != nil {
		return "", 0, "", err
	}
	return host, port, proto, nil
}
