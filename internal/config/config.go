// Package config loads Lighthouse's flag/file configuration, mirroring
// coredhcp's viper+pflag layering: the same settings can be supplied on
// the command line or through a config file, with flags taking priority.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rapid7/lighthouse/internal/logger"
)

var log = logger.GetLogger("config")

// Config is the fully resolved set of settings a Lighthouse process runs
// with, built from §6.2's CLI flags.
type Config struct {
	DataDir   string
	Bind      string
	Seeds     []string
	LoadLimit time.Duration
	RmLimit   time.Duration
	Bootstrap bool
}

const (
	defaultBind      = "localhost:8001"
	defaultRelative  = "-7 days"
)

// Load builds a FlagSet for args, binds it through viper (so LIGHTHOUSE_*
// env vars and a lighthouse.yaml in the working directory are honored
// too), and returns the resolved Config. help reports whether --help or
// --version was requested; for --help, pflag has already printed usage to
// stderr, while --version prints nothing.
func Load(args []string) (cfg Config, help bool, err error) {
	fs := pflag.NewFlagSet("lighthouse", pflag.ContinueOnError)

	fs.String("data.d", "", "directory holding persisted snapshot files")
	fs.String("bind", defaultBind, "address to listen on, host[:port]")
	fs.StringSlice("seeds", nil, "comma-separated list of peer addresses to seed the cluster with")
	fs.String("load-limit", defaultRelative, "reject snapshots older than this relative time")
	fs.String("rm-limit", defaultRelative, "prune snapshot files older than this relative time")
	fs.Bool("bootstrap", false, "skip the snapshot freshness check (equivalent to --load-limit=)")
	version := fs.Bool("version", false, "exit immediately without starting (no version string is printed)")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return Config{}, true, nil
		}
		return Config{}, false, err
	}
	if *version {
		return Config{}, true, nil
	}

	v := viper.New()
	v.SetEnvPrefix("LIGHTHOUSE")
	v.AutomaticEnv()
	v.SetConfigName("lighthouse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, false, err
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, false, err
		}
	}

	cfg.DataDir = v.GetString("data.d")
	cfg.Bind = v.GetString("bind")
	cfg.Seeds = v.GetStringSlice("seeds")
	cfg.Bootstrap = v.GetBool("bootstrap")

	loadLimitRaw := v.GetString("load-limit")
	rmLimitRaw := v.GetString("rm-limit")
	if cfg.Bootstrap {
		loadLimitRaw = ""
	}

	cfg.LoadLimit, err = ParseRelativeDuration(loadLimitRaw)
	if err != nil {
		return Config{}, false, fmt.Errorf("--load-limit: %w", err)
	}
	cfg.RmLimit, err = ParseRelativeDuration(rmLimitRaw)
	if err != nil {
		return Config{}, false, fmt.Errorf("--rm-limit: %w", err)
	}

	log.Debugf("resolved config: data.d=%s bind=%s seeds=%v load-limit=%s rm-limit=%s bootstrap=%v",
		cfg.DataDir, cfg.Bind, cfg.Seeds, formatRelative(cfg.LoadLimit), formatRelative(cfg.RmLimit), cfg.Bootstrap)
	return cfg, false, nil
}

// ParseRelativeDuration parses strings like "-7 days", "-30 minutes", or a
// bare number of hours, using spf13/cast to coerce the numeric component.
// An empty string disables the limit, returned as 0.
func ParseRelativeDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	fields := strings.Fields(s)
	if len(fields) == 1 {
		n, err := cast.ToFloat64E(fields[0])
		if err != nil {
			return 0, fmt.Errorf("invalid relative duration %q: %w", s, err)
		}
		return time.Duration(n * float64(time.Hour)), nil
	}
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid relative duration %q", s)
	}

	n, err := cast.ToFloat64E(fields[0])
	if err != nil {
		return 0, fmt.Errorf("invalid relative duration %q: %w", s, err)
	}
	unit, err := unitDuration(fields[1])
	if err != nil {
		return 0, fmt.Errorf("invalid relative duration %q: %w", s, err)
	}
	return time.Duration(n * float64(unit)), nil
}

func unitDuration(unit string) (time.Duration, error) {
	unit = strings.ToLower(strings.TrimSuffix(unit, "s"))
	switch unit {
	case "second", "sec":
		return time.Second, nil
	case "minute", "min":
		return time.Minute, nil
	case "hour", "hr":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}

// formatRelative is used by logging/debug paths that want a human string
// back from a resolved Duration, the inverse of ParseRelativeDuration's
// "-N unit" shape.
func formatRelative(d time.Duration) string {
	if d == 0 {
		return ""
	}
	hours := d.Hours()
	return strconv.FormatFloat(hours, 'f', -1, 64) + " hours"
}
