package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind             string
	challenges       string
	legacyDifficulty bool
	port             int
	prefix           string
	profile          bool
	roomGrace        time.Duration
	roundDelay       time.Duration
	rounds           int
	sessionTimeout   time.Duration
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid round count (must be at least 1): %d", c.rounds)
	}
	if c.roundDelay <= 0 {
		return fmt.Errorf("invalid round delay (must be positive): %s", c.roundDelay)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// levelsFor maps a room mode to the challenge difficulty tags it may draw from.
// The legacy table is the historical two-tier mapping.
func (c *Config) levelsFor(mode Mode) []string {
	if c.legacyDifficulty {
		if mode == ModeHard {
			return []string{"hard", "expert"}
		}
		return []string{"easy", "normal"}
	}

	switch mode {
	case ModeEasy:
		return []string{"easy"}
	case ModeHard:
		return []string{"hard"}
	default:
		return []string{"normal"}
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tandem...",
		Short:         "A cooperative two-player quiz, packed in a single modular webapp.",
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

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TANDEM_BIND)")
	fs.StringVar(&cfg.challenges, "challenges", "challenges.json", "path to the challenge catalog file (env: TANDEM_CHALLENGES)")
	fs.BoolVar(&cfg.legacyDifficulty, "legacy-difficulty", false, "use the two-tier difficulty table (env: TANDEM_LEGACY_DIFFICULTY)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TANDEM_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TANDEM_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TANDEM_PROFILE)")
	fs.DurationVar(&cfg.roomGrace, "room-grace", time.Minute, "time before never-joined rooms are removed (env: TANDEM_ROOM_GRACE)")
	fs.DurationVar(&cfg.roundDelay, "round-delay", 1500*time.Millisecond, "pause between rounds (env: TANDEM_ROUND_DELAY)")
	fs.IntVar(&cfg.rounds, "rounds", 3, "rounds per game (env: TANDEM_ROUNDS)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are ended (env: TANDEM_IDLE_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TANDEM_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TANDEM_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TANDEM_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TANDEM_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tandem v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
