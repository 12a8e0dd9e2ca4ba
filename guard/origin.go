/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package guard screens untrusted input before it reaches the rest of the
// server: request origins, free-text identifiers and client fingerprints.
package guard

import (
	"net"
	"net/url"
	"strings"
)

// Origins decides which browser origins may call the API.
type Origins struct {
	baseURL    string
	production bool
}

// NewOrigins accepts baseURL (may be empty) in addition to the request's
// own host. Outside production, localhost origins on any port are accepted
// too.
func NewOrigins(baseURL string, production bool) *Origins {
	o := &Origins{production: production}

	if normalized, ok := normalizeOrigin(baseURL); ok {
		o.baseURL = normalized
	}

	return o
}

// Allowed reports whether origin may talk to a server reached as host.
// A missing or malformed origin is never allowed.
func (o *Origins) Allowed(origin, host string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if o.baseURL != "" && normalized == o.baseURL {
		return true
	}

	if host != "" {
		host = strings.ToLower(host)
		if normalized == "http://"+host || normalized == "https://"+host {
			return true
		}
	}

	if !o.production && isLoopback(normalized) {
		return true
	}

	return false
}

func normalizeOrigin(origin string) (string, bool) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", false
	}

	return scheme + "://" + strings.ToLower(parsed.Host), true
}

func isLoopback(normalized string) bool {
	parsed, err := url.Parse(normalized)
	if err != nil {
		return false
	}

	hostname := parsed.Hostname()
	if hostname == "localhost" {
		return true
	}

	ip := net.ParseIP(hostname)

	return ip != nil && ip.IsLoopback()
}
