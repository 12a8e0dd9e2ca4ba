/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/seance/guard"
)

const (
	visitorCookieName = "seance_id"
	roomIDLen         = 8
	maxRoomIDLen      = 64
)

// getOrSetVisitorID returns the visitor's anonymous id, issuing one on
// first contact.
func getOrSetVisitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		logError(fmt.Errorf("rand.Read: %w", err))
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// rooms remembers which friend rooms have been handed out and when they
// were last used, so new room ids never collide with a live one.
type rooms struct {
	mu         sync.Mutex
	lastActive map[string]time.Time
	now        func() time.Time
}

func newRooms() *rooms {
	return &rooms{
		lastActive: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (rs *rooms) create() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for {
		id := guard.RandomToken(roomIDLen)

		if _, exists := rs.lastActive[id]; !exists {
			rs.lastActive[id] = rs.now()
			return id
		}
	}
}

func (rs *rooms) touch(id string) {
	rs.mu.Lock()
	rs.lastActive[id] = rs.now()
	rs.mu.Unlock()
}

func (rs *rooms) active() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return len(rs.lastActive)
}

// reap forgets rooms idle for longer than idle and reports how many.
func (rs *rooms) reap(idle time.Duration) int {
	cutoff := rs.now().Add(-idle)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	n := 0
	for id, last := range rs.lastActive {
		if last.Before(cutoff) {
			delete(rs.lastActive, id)
			n++
		}
	}

	return n
}

func (rs *rooms) reaperLoop(ctx context.Context, cfg *Config, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rs.reap(idle); n > 0 {
				logf(cfg, "ROOMS: Forgot %d idle room(s)", n)
			}
		}
	}
}

// redirectNewRoom handles GET /room by redirecting to a fresh room.
func redirectNewRoom(cfg *Config, rs *rooms) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rs.create()
		logf(cfg, "ROOMS: Created room %s for %s", roomID, realIP(r))
		http.Redirect(w, r, cfg.prefix+"/room/"+roomID, http.StatusTemporaryRedirect)
	}
}

func serveRoomPage(cfg *Config, rs *rooms, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := guard.Clean(ps.ByName("roomid"), maxRoomIDLen)
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		rs.touch(roomID)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		_ = getOrSetVisitorID(w, r)

		escaped := html.EscapeString(roomID)
		body := fmt.Sprintf(`Room %s<br><img src="%s/room/%s/qr" alt="invite code" width="320" height="320">`,
			escaped, cfg.prefix, escaped)

		_, err := io.WriteString(w, newPage("seance: room "+escaped, body))
		if err != nil {
			errs <- err

			return
		}
	}
}

// inviteURL is the link a QR code for roomPath should point at.
func inviteURL(cfg *Config, r *http.Request, roomPath string) string {
	if cfg.baseURL != "" {
		return strings.TrimSuffix(cfg.baseURL, "/") + roomPath
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	return scheme + "://" + r.Host + roomPath
}

// serveRoomQR renders a PNG invite for the room the request is under.
func serveRoomQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if guard.Clean(ps.ByName("roomid"), maxRoomIDLen) == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		link := inviteURL(cfg, r, strings.TrimSuffix(r.URL.Path, "/qr"))

		const qrSize = 320
		png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, err = w.Write(png)
		if err != nil {
			errs <- err

			return
		}
	}
}

func registerRooms(ctx context.Context, cfg *Config, rs *rooms, mux *httprouter.Router, errs chan<- error) {
	if cfg.roomTimeout > 0 {
		go rs.reaperLoop(ctx, cfg, cfg.roomTimeout)
	}

	mux.GET(cfg.prefix+"/room", redirectNewRoom(cfg, rs))
	mux.GET(cfg.prefix+"/room/:roomid", serveRoomPage(cfg, rs, errs))
	mux.GET(cfg.prefix+"/room/:roomid/qr", serveRoomQR(cfg, errs))
}
