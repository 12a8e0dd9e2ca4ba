/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package guard

import (
	"net"
	"net/http"
	"strings"
)

const userAgentPrefix = 20

// ClientKey fingerprints the caller for rate limiting: the caller's address
// plus the start of the User-Agent. Forwarded headers are only consulted
// when trustForwarded is set.
func ClientKey(r *http.Request, trustForwarded bool) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > userAgentPrefix {
		ua = ua[:userAgentPrefix]
	}

	return ClientIP(r, trustForwarded) + ":" + ua
}

// ClientIP returns the address of the caller, without port. Behind a trusted
// proxy the first parseable forwarded hop wins, then CF-Connecting-IP and
// X-Real-IP; otherwise only the socket address counts.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}

		for _, header := range []string{"CF-Connecting-IP", "X-Real-IP"} {
			if ip := strings.TrimSpace(r.Header.Get(header)); ip != "" && net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if host == "" {
		return "local"
	}

	return host
}

func forwardedFor(header string) string {
	if header == "" {
		return ""
	}

	first, _, _ := strings.Cut(header, ",")
	first = strings.TrimSpace(first)

	if net.ParseIP(first) == nil {
		return ""
	}

	return first
}
