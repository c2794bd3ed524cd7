package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/castaway/internal/orchestrator"
)

type Config struct {
	amqpURL        string
	bind           string
	dbPath         string
	finalists      int
	logFormat      string
	minPlayers     int
	nightDuration  time.Duration
	playerTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	rateBurst      int
	rateLimit      float64
	redisAddr      string
	sessionTimeout time.Duration
	startingSilver int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.logFormat != "text" && c.logFormat != "json" {
		return fmt.Errorf("invalid log format (must be text or json): %q", c.logFormat)
	}
	if c.minPlayers < 2 {
		return fmt.Errorf("invalid minimum player count (must be at least 2): %d", c.minPlayers)
	}
	if c.finalists < 1 || c.finalists >= c.minPlayers {
		return fmt.Errorf("invalid finalist count (must be between 1 and %d): %d", c.minPlayers-1, c.finalists)
	}
	if c.startingSilver < 0 {
		return fmt.Errorf("invalid starting silver (must not be negative): %d", c.startingSilver)
	}
	if c.nightDuration < 0 {
		return fmt.Errorf("invalid night duration (must not be negative): %s", c.nightDuration)
	}
	if c.rateLimit <= 0 || c.rateBurst < 1 {
		return fmt.Errorf("invalid rate limit (must be positive, with a burst of at least 1): %v/%d", c.rateLimit, c.rateBurst)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// timeline is the default schedule with the configured overrides applied.
func (c *Config) timeline() orchestrator.Timeline {
	tl := orchestrator.DefaultTimeline()
	tl.MinPlayers = c.minPlayers
	tl.Finalists = c.finalists
	tl.StartingSilver = c.startingSilver
	tl.NightDuration = c.nightDuration
	return tl
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CASTAWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "castaway",
		Short:         "A real-time social elimination game server.",
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

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.amqpURL, "amqp-url", "", "rabbitmq url to publish notifications to (env: CASTAWAY_AMQP_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CASTAWAY_BIND)")
	fs.StringVar(&cfg.dbPath, "db", "", "path to sqlite fact ledger, in-memory if unset (env: CASTAWAY_DB)")
	fs.IntVar(&cfg.finalists, "finalists", 2, "players left standing when the game ends (env: CASTAWAY_FINALISTS)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "log output format, text or json (env: CASTAWAY_LOG_FORMAT)")
	fs.IntVar(&cfg.minPlayers, "min-players", 3, "players required to start a game (env: CASTAWAY_MIN_PLAYERS)")
	fs.DurationVar(&cfg.nightDuration, "night-duration", 30*time.Second, "length of the night phase, 0 to wait for the host (env: CASTAWAY_NIGHT_DURATION)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Minute, "time before idle connections are closed (env: CASTAWAY_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CASTAWAY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CASTAWAY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CASTAWAY_PROFILE)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 10, "inbound frames a connection may send in a burst (env: CASTAWAY_RATE_BURST)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 5, "inbound frames per second allowed per connection (env: CASTAWAY_RATE_LIMIT)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address to mirror facts to (env: CASTAWAY_REDIS_ADDR)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: CASTAWAY_SESSION_TIMEOUT)")
	fs.IntVar(&cfg.startingSilver, "starting-silver", 50, "silver each player joins with (env: CASTAWAY_STARTING_SILVER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CASTAWAY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CASTAWAY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CASTAWAY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CASTAWAY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("castaway v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
