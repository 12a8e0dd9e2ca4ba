package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/guard"
	"github.com/Seednode/seance/matchmaking"
	"github.com/Seednode/seance/ratelimit"
	"github.com/Seednode/seance/spirits"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("seance v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// coordinator is the server's shared state. Handlers get it injected;
// nothing here is a package global.
type coordinator struct {
	cfg     *Config
	limiter *ratelimit.Limiter
	origins *guard.Origins
	auth    *broker.Authenticator
	hub     *broker.Hub
	relay   *broker.Relay
	rdb     redis.UniversalClient
	router  *channels.Router
	queue   *matchmaking.Queue
	oracle  *spirits.Oracle
	rooms   *rooms
}

func newCoordinator(cfg *Config) *coordinator {
	c := &coordinator{
		cfg:     cfg,
		limiter: ratelimit.New(),
		origins: guard.NewOrigins(cfg.baseURL, cfg.production),
		rooms:   newRooms(),
	}

	logger := func(format string, args ...any) {
		logf(cfg, format, args...)
	}

	secret := cfg.brokerSecret
	if secret == "" {
		secret = guard.RandomToken(32)
	}

	c.auth = broker.NewAuthenticator(cfg.brokerKey, secret, cfg.authTTL)

	c.hub = broker.NewHub(
		broker.WithAuthenticator(c.auth),
		broker.WithCheckOrigin(func(r *http.Request) bool {
			return c.origins.Allowed(r.Header.Get("Origin"), r.Host)
		}),
		broker.WithLogger(logger),
	)

	var fanout channels.Broker = c.hub

	if cfg.redisAddr != "" {
		c.rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.redisAddr}})
		c.relay = broker.NewRelay(c.rdb, c.hub, cfg.redisPrefix, logger)
		fanout = c.relay
	}

	c.router = channels.NewRouter(fanout, c.origins, c.limiter,
		channels.WithProduction(cfg.production),
		channels.WithLogger(logger),
	)

	c.queue = matchmaking.NewQueue(c.router,
		matchmaking.WithWaitTimeout(cfg.matchTimeout),
		matchmaking.WithLogger(logger),
	)

	opts := []spirits.OracleOption{
		spirits.WithModel(cfg.aiModel),
		spirits.WithEndpoint(cfg.aiURL),
		spirits.WithLogger(logger),
	}
	if cfg.aiRate > 0 {
		opts = append(opts, spirits.WithUpstreamLimit(rate.NewLimiter(rate.Limit(cfg.aiRate), max(1, int(cfg.aiRate)))))
	}

	c.oracle = spirits.NewOracle(cfg.aiKey, opts...)

	return c
}

// run starts the background work and blocks until ctx is done.
func (c *coordinator) run(ctx context.Context) {
	if c.cfg.sweepInterval > 0 {
		go c.limiter.Run(ctx, c.cfg.sweepInterval)
	}

	if c.relay != nil {
		go func() {
			if err := c.relay.Run(ctx); err != nil {
				logError(fmt.Errorf("broker relay stopped: %w", err))
			}
		}()
	}

	<-ctx.Done()
}

func (c *coordinator) close() {
	_ = c.hub.Close()

	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}

func (c *coordinator) register(ctx context.Context, mux *httprouter.Router, errs chan<- error) {
	cfg := c.cfg

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux, c, errs)
	}

	registerRooms(ctx, cfg, c.rooms, mux, errs)

	c.registerAPI(mux, errs)
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: seance v%s", releaseVersion)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logError(fmt.Errorf("panic serving %s: %v", r.URL.Path, i))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	errs := make(chan error, 64)
	go drainErrors(errs)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	if cfg.brokerSecret == "" {
		logf(cfg, "START: No --broker-secret set, presence tokens only verify on this process")
	}

	c := newCoordinator(cfg)
	defer c.close()

	c.register(ctx, mux, errs)

	if cfg.redisAddr != "" {
		logf(cfg, "START: Sharing broker through redis at %s", cfg.redisAddr)
	}

	if !c.oracle.Configured() {
		logf(cfg, "START: No --ai-key set, spirits will use canned replies")
	}

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logError(err)
			cancel()
		}
	}()

	c.run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
