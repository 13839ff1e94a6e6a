package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultAllowedHosts covers the blob stores kept images are published to.
var DefaultAllowedHosts = []string{
	"supabase.co",
	"supabase.in",
	"r2.dev",
	"r2.cloudflarestorage.com",
	"amazonaws.com",
}

var (
	ErrPrivateIP     = fmt.Errorf("URL resolves to private IP address")
	ErrUntrustedHost = fmt.Errorf("URL host is not trusted")
	ErrInvalidScheme = fmt.Errorf("only HTTPS URLs are allowed")
)

// URLValidator checks gallery download URLs before they are fetched.
type URLValidator struct {
	Strict bool
	Hosts  []string
	// AllowLocal accepts plain http and private addresses.
	AllowLocal bool
}

// NewURLValidator returns a validator trusting DefaultAllowedHosts plus
// extraHosts. Extra entries may be full URLs; only their host is kept.
func NewURLValidator(strict bool, extraHosts ...string) *URLValidator {
	hosts := append([]string{}, DefaultAllowedHosts...)
	for _, h := range extraHosts {
		if h = hostOf(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLValidator{Strict: strict, Hosts: hosts}
}

func (v *URLValidator) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" && !(v.AllowLocal && parsed.Scheme == "http") {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()

	if v.Strict && !v.isAllowedHost(host) {
		return ErrUntrustedHost
	}

	if v.AllowLocal {
		return nil
	}
	return validateHostIP(host)
}

// ValidateImageURL validates against the default host list.
func ValidateImageURL(rawURL string, strictMode bool) error {
	return NewURLValidator(strictMode).Validate(rawURL)
}

func (v *URLValidator) isAllowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range v.Hosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	return s
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0: // 0.0.0.0/8
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT)
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0:
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2: // TEST-NET-1
			return true
		case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100: // TEST-NET-2
			return true
		case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113: // TEST-NET-3
			return true
		case ip4[0] >= 224 && ip4[0] <= 239: // multicast
			return true
		case ip4[0] >= 240:
			return true
		}
	}

	return false
}
