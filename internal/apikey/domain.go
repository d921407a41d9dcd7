package apikey

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrInvalidDomain is returned for entries that are not a hostname, IPv4 or localhost.
	ErrInvalidDomain = errors.New("invalid domain format")
	// ErrDomainOriginRejected is returned when a request origin is not allowed by the profile.
	ErrDomainOriginRejected = errors.New("origin not in allowed domains")
)

var (
	localhostPattern = regexp.MustCompile(`^localhost(:\d+)?$`)
	domainPattern    = regexp.MustCompile(`^(?:localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d+)?|(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9])$`)
)

// CleanDomain normalizes a user-entered domain: lower-cased, trimmed,
// scheme and trailing slashes removed.
func CleanDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// ValidDomain reports whether an already cleaned domain is acceptable as an
// allowed-domain entry.
func ValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if localhostPattern.MatchString(domain) {
		return true
	}
	return domainPattern.MatchString(domain)
}

// DomainPolicy checks request origins against a profile's allowed domains.
type DomainPolicy struct{}

// AllowedOrigin reports whether origin may use the profile's key. origin is
// the value of the Origin header, falling back to Referer; both full URLs and
// bare hosts are accepted. A profile without allowed domains is unrestricted.
func (DomainPolicy) AllowedOrigin(p Profile, origin string) bool {
	if len(p.AllowedDomains) == 0 {
		return true
	}
	host := originHost(origin)
	if host == "" {
		return false
	}
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	for _, allowed := range p.AllowedDomains {
		allowed = CleanDomain(allowed)
		if allowed == host {
			return true
		}
		// An entry without a port admits any port on that host.
		if !strings.Contains(allowed, ":") && allowed == hostname {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return ""
	}
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Host)
	}
	host, _, _ := strings.Cut(CleanDomain(origin), "/")
	return host
}
