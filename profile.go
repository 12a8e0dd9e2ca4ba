/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// stats is a point-in-time view of the coordination state.
type stats struct {
	Connections int    `json:"connections"`
	Waiting     string `json:"waiting,omitempty"`
	RateBuckets int    `json:"rateBuckets"`
	Rooms       int    `json:"rooms"`
}

func (c *coordinator) stats() stats {
	s := stats{
		Connections: c.hub.Connections(),
		RateBuckets: c.limiter.Len(),
		Rooms:       c.rooms.active(),
	}

	if id, ok := c.queue.Waiting(); ok {
		s.Waiting = id.DisplayName
	}

	return s
}

func serveStats(cfg *Config, c *coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := writeJSON(cfg, w, http.StatusOK, c.stats()); err != nil {
			errs <- err
		}
	}
}

func registerProfileHandlers(cfg *Config, mux *httprouter.Router, c *coordinator, errs chan<- error) {
	mux.GET(cfg.prefix+"/pprof/stats", serveStats(cfg, c, errs))

	mux.Handler("GET", cfg.prefix+"/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", cfg.prefix+"/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", cfg.prefix+"/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", cfg.prefix+"/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", cfg.prefix+"/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", cfg.prefix+"/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/trace", pprof.Trace)
}
