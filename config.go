package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/spirits"
)

// Outside production every budget is relaxed by this factor.
const devBudgetFactor = 10

type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	baseURL        string
	production     bool
	trustForwarded bool

	brokerKey    string
	brokerSecret string
	authTTL      time.Duration
	redisAddr    string
	redisPrefix  string

	matchTimeout  time.Duration
	roomTimeout   time.Duration
	publishLimit  int
	matchLimit    int
	authLimit     int
	aiLimit       int
	rateWindow    time.Duration
	sweepInterval time.Duration

	aiKey   string
	aiModel string
	aiURL   string
	aiRate  float64
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rateWindow <= 0 {
		return fmt.Errorf("invalid rate window (must be positive): %s", c.rateWindow)
	}
	for name, limit := range map[string]int{
		"publish-limit": c.publishLimit,
		"match-limit":   c.matchLimit,
		"auth-limit":    c.authLimit,
		"ai-limit":      c.aiLimit,
	} {
		if limit < 1 {
			return fmt.Errorf("invalid --%s (must be at least 1): %d", name, limit)
		}
	}
	if c.redisAddr != "" && c.brokerSecret == "" {
		return errors.New("--broker-secret must be set when sharing a broker through --redis-addr")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) budget(name string, max int) channels.Budget {
	if !c.production {
		max *= devBudgetFactor
	}

	return channels.Budget{Name: name, Max: max, Window: c.rateWindow}
}

func normalize(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// bindEnv lets every flag in fs be set through SEANCE_<FLAG>.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("SEANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "seance",
		Short:         "Real-time coordination server for a talking-board seance.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()
	normalize(fs)

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SEANCE_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SEANCE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SEANCE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SEANCE_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SEANCE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SEANCE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SEANCE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SEANCE_VERSION)")

	fs.StringVar(&cfg.baseURL, "base-url", "", "public origin of the site, accepted in addition to the request host (env: SEANCE_BASE_URL)")
	fs.BoolVar(&cfg.production, "production", false, "enforce production channel policy and rate budgets (env: SEANCE_PRODUCTION)")
	fs.BoolVar(&cfg.trustForwarded, "trust-forwarded", false, "identify clients by X-Forwarded-For, CF-Connecting-IP and X-Real-IP, only safe behind a proxy that sets them (env: SEANCE_TRUST_FORWARDED)")

	fs.StringVar(&cfg.brokerKey, "broker-key", "seance", "public key presented with presence auth tokens (env: SEANCE_BROKER_KEY)")
	fs.StringVar(&cfg.brokerSecret, "broker-secret", "", "secret for signing presence auth tokens, random if unset (env: SEANCE_BROKER_SECRET)")
	fs.DurationVar(&cfg.authTTL, "auth-ttl", 5*time.Minute, "lifetime of a presence auth token (env: SEANCE_AUTH_TTL)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address used to share the broker between processes (env: SEANCE_REDIS_ADDR)")
	fs.StringVar(&cfg.redisPrefix, "redis-prefix", "seance:", "prefix for redis pub/sub channels (env: SEANCE_REDIS_PREFIX)")

	fs.DurationVar(&cfg.matchTimeout, "match-timeout", 2*time.Minute, "time before an unmatched visitor gives up their waiting slot, 0 to never expire (env: SEANCE_MATCH_TIMEOUT)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 60*time.Minute, "time before idle room ids may be handed out again (env: SEANCE_ROOM_TIMEOUT)")
	fs.IntVar(&cfg.publishLimit, "publish-limit", 120, "events a client may publish per rate window (env: SEANCE_PUBLISH_LIMIT)")
	fs.IntVar(&cfg.matchLimit, "match-limit", 10, "match requests a client may make per rate window (env: SEANCE_MATCH_LIMIT)")
	fs.IntVar(&cfg.authLimit, "auth-limit", 30, "presence auth requests a client may make per rate window (env: SEANCE_AUTH_LIMIT)")
	fs.IntVar(&cfg.aiLimit, "ai-limit", 20, "spirit prompts a client may send per rate window (env: SEANCE_AI_LIMIT)")
	fs.DurationVar(&cfg.rateWindow, "rate-window", time.Minute, "length of a rate limiting window (env: SEANCE_RATE_WINDOW)")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", 5*time.Minute, "how often expired rate buckets are dropped (env: SEANCE_SWEEP_INTERVAL)")

	fs.StringVar(&cfg.aiKey, "ai-key", "", "API key for the text generation endpoint, canned replies if unset (env: SEANCE_AI_KEY)")
	fs.StringVar(&cfg.aiModel, "ai-model", spirits.DefaultModel, "model requested from the text generation endpoint (env: SEANCE_AI_MODEL)")
	fs.StringVar(&cfg.aiURL, "ai-url", spirits.DefaultEndpoint, "OpenAI-compatible chat completions URL (env: SEANCE_AI_URL)")
	fs.Float64Var(&cfg.aiRate, "ai-rate", 2, "text generation calls per second across all clients (env: SEANCE_AI_RATE)")

	bindEnv(fs)

	cmd.AddCommand(newClientCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("seance v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
