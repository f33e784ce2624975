package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/analytics4github/github-pager/pkg/auth"
	"github.com/analytics4github/github-pager/pkg/client"
	"github.com/analytics4github/github-pager/pkg/logging"
	"github.com/analytics4github/github-pager/pkg/metrics"
	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// Environment variables consulted for flag defaults.
const (
	envAPIURL    = "GITHUB_API_URL"
	envTokenFile = "GITHUB_TOKEN_FILE"
	envRedisURL  = "REDIS_URL"
	envUserAgent = "USER_AGENT"
)

const defaultUserAgent = "ghpager/0.1.0"

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	apiURL      string
	tokenFile   string
	redisURL    string
	userAgent   string
	policy      string
	rps         float64
	retries     int
	timeout     time.Duration
	metricsAddr string
	logLevel    string
	logPretty   bool
}

// session is what a command works with once flags are parsed.
type session struct {
	client  *client.Client
	budget  *ratelimit.Budget
	tracker *ratelimit.Tracker
	redis   *redis.Client
	logger  zerolog.Logger

	stopMetrics context.CancelFunc
}

// recorder returns where budget observations go: Redis when configured,
// the in-process budget otherwise.
func (s *session) recorder() ratelimit.Recorder {
	if s.tracker != nil {
		return s.tracker
	}
	return s.budget
}

func (s *session) close() {
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = s.client.Close()
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	logCfg, envErr := logging.FromEnv(getenv)

	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "ghpager",
		Short: "Walk paged GitHub REST collections",
		Long: `ghpager resolves how many pages a repository collection spans and fetches
them newest-page-first, in parallel batches, while tracking the rate-limit budget
reported by GitHub.

Configuration is read from flags, falling back to GITHUB_API_URL, GITHUB_TOKEN_FILE,
GITHUB_TOKEN, REDIS_URL, USER_AGENT, LOG_LEVEL and LOG_PRETTY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  level,
				Pretty: opts.logPretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", envOr(getenv, envAPIURL, client.DefaultBaseURL), "GitHub API root")
	flags.StringVar(&opts.tokenFile, "token-file", getenv(envTokenFile), "file holding the API token (falls back to "+auth.EnvToken+")")
	flags.StringVar(&opts.redisURL, "redis-url", getenv(envRedisURL), "Redis address or redis:// URL to share the budget through")
	flags.StringVar(&opts.userAgent, "user-agent", envOr(getenv, envUserAgent, defaultUserAgent), "User-Agent header")
	flags.StringVar(&opts.policy, "budget-policy", ratelimit.PolicyLastWriteWins.String(), "budget merge policy: last_write_wins or minimum_observed")
	flags.Float64Var(&opts.rps, "rps", 0, "client-side request pacing in requests per second (0 disables)")
	flags.IntVar(&opts.retries, "retries", 0, "retries for server and network errors")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout of a single HTTP request")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.StringVar(&opts.logLevel, "log-level", string(logCfg.Level), "log level: debug, info, warn, error, disabled")
	flags.BoolVar(&opts.logPretty, "log-pretty", logCfg.Pretty, "human-readable console logs")

	rootCmd.AddCommand(
		newPagesCmd(opts, getenv),
		newFetchCmd(opts, getenv),
		newBudgetCmd(opts, getenv),
	)

	return rootCmd
}

// open builds the client, budget and optional Redis tracker.
func (o *rootOptions) open(ctx context.Context, getenv func(string) string) (*session, error) {
	logger := logging.NewLogger("cli")

	policy, err := parsePolicy(o.policy)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewFileTokenSource(o.tokenFile)
	tokens.Getenv = getenv
	cfg := client.DefaultConfig(o.userAgent)
	cfg.BaseURL = o.apiURL
	cfg.TokenSource = oauth2.ReuseTokenSource(nil, tokens)
	cfg.RequestsPerSecond = o.rps
	cfg.MaxRetries = o.retries
	cfg.Timeout = o.timeout

	c, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	s := &session{
		client: c,
		budget: ratelimit.NewBudget(policy),
		logger: logger,
	}

	if o.redisURL != "" {
		rdb, err := newRedisClient(o.redisURL)
		if err != nil {
			s.close()
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			s.close()
			return nil, fmt.Errorf("connect to redis at %s: %w", o.redisURL, err)
		}
		logger.Info().Str("redis", o.redisURL).Msg("Sharing budget through Redis")
		s.redis = rdb
		s.tracker = ratelimit.NewTracker(rdb, s.budget, logging.NewLogger("ratelimit"))
	}

	if o.metricsAddr != "" {
		mctx, cancel := context.WithCancel(ctx)
		s.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(mctx, o.metricsAddr); err != nil {
				log.Error().Err(err).Str("addr", o.metricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	return s, nil
}

func newRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		redisOpts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(redisOpts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func parsePolicy(s string) (ratelimit.Policy, error) {
	switch s {
	case ratelimit.PolicyLastWriteWins.String(), "":
		return ratelimit.PolicyLastWriteWins, nil
	case ratelimit.PolicyMinimumObserved.String():
		return ratelimit.PolicyMinimumObserved, nil
	default:
		return 0, fmt.Errorf("unknown budget policy %q", s)
	}
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
