/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/seance/errs"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func logError(err error) {
	log.Printf("%s | ERROR: %v", time.Now().Format(logDate), err)
}

// drainErrors prints whatever the handlers failed to write.
func drainErrors(errc <-chan error) {
	for err := range errc {
		logError(err)
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

// failure is the error body shared by every API route.
type failure struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// writeError maps err onto its status code. Only server-side failures are
// logged; callers just see the public message.
func writeError(cfg *Config, w http.ResponseWriter, r *http.Request, err error) error {
	status := errs.StatusCode(err)
	body := failure{Error: errs.Public(err)}

	if retry, ok := errs.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		body.RetryAfterMs = max(retry.Milliseconds(), 1)
	}

	if status >= http.StatusInternalServerError {
		logError(fmt.Errorf("%s %s from %s: %w", r.Method, r.URL.Path, realIP(r), err))
	} else {
		logf(cfg, "DENY: %s %s from %s (%d): %v", r.Method, r.URL.Path, realIP(r), status, err)
	}

	return writeJSON(cfg, w, status, body)
}
