// Package config loads the server configuration from flags and environment.
//
// Every setting has a flag and an environment variable. The environment
// provides the default and an explicit flag wins.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/billing"
)

// Config holds application configuration
type Config struct {
	Port          int
	Driver        string // sqlite | postgres
	DSN           string
	LogLevel      string
	LogFormat     string // json | text
	SweepSchedule string // standard 5-field cron spec
	Timezone      string
	HorizonMonths int
	CORSOrigins   []string

	Location *time.Location
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load parses args (without the program name) on top of the process
// environment.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, defaultVal string) string {
		if value, exists := lookup(key); exists {
			return value
		}
		return defaultVal
	}

	horizonDefault, err := strconv.Atoi(getEnv("HORIZON_MONTHS", strconv.Itoa(billing.DefaultHorizonMonths)))
	if err != nil {
		return nil, fmt.Errorf("HORIZON_MONTHS: %w", err)
	}
	portDefault, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}

	cfg := &Config{}
	var origins string

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", portDefault, "HTTP server port")
	fs.StringVar(&cfg.Driver, "driver", getEnv("DB_DRIVER", DriverSQLite), "storage driver: sqlite or postgres")
	fs.StringVar(&cfg.DSN, "db", getEnv("DB_DSN", "billing.db"), "SQLite path or Postgres connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format: json or text")
	fs.StringVar(&cfg.SweepSchedule, "sweep-schedule", getEnv("SWEEP_SCHEDULE", "5 0 * * *"), "cron spec of the daily sweep")
	fs.StringVar(&cfg.Timezone, "timezone", getEnv("TIMEZONE", "UTC"), "timezone that defines \"today\"")
	fs.IntVar(&cfg.HorizonMonths, "horizon-months", horizonDefault, "expansion horizon for rules without an end date")
	fs.StringVar(&origins, "cors-origins", getEnv("CORS_ORIGINS", ""), "comma separated allowed origins")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("db is required")
	}
	if c.HorizonMonths < 1 {
		return fmt.Errorf("horizon-months must be at least 1")
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.SweepSchedule, err)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
