/*
Package config loads the server's runtime configuration.

PRECEDENCE (last wins):
  1. Defaults
  2. .env file in the working directory (optional, via godotenv)
  3. Process environment
  4. Command-line flags

VARIABLES:
  PORT          HTTP server port (default 8080)
  DB_PATH       SQLite database path (default closing.db, ":memory:" allowed)
  LOG_LEVEL     debug | info | warn | error (default info)
  LOG_FORMAT    json | console (default json)
  CORS_ORIGINS  Comma-separated allowed origins
  RECOMPUTE_PARALLELISM  Months recomputed at once by bulk recompute (default 4)
  RECOMPUTE_INTERVAL     Background refresh of open closings, e.g. "1h" (default 0, off)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 int
	DBPath               string
	LogLevel             string
	LogFormat            string
	CORSOrigins          []string
	RecomputeParallelism int
	RecomputeInterval    time.Duration
}

func Default() Config {
	return Config{
		Port:                 8080,
		DBPath:               "closing.db",
		LogLevel:             "info",
		LogFormat:            "json",
		CORSOrigins:          []string{"http://localhost:5173", "http://localhost:8080"},
		RecomputeParallelism: 4,
	}
}

// Load reads .env (if present), the environment, then the given flags.
// args are the command-line arguments without the program name.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Default()

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("RECOMPUTE_PARALLELISM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECOMPUTE_PARALLELISM %q: %w", v, err)
		}
		cfg.RecomputeParallelism = n
	}
	if v, ok := lookup("RECOMPUTE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECOMPUTE_INTERVAL %q: %w", v, err)
		}
		cfg.RecomputeInterval = d
	}

	fset := flag.NewFlagSet("server", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fset.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fset.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json or console)")
	fset.DurationVar(&cfg.RecomputeInterval, "recompute-interval", cfg.RecomputeInterval, "background recompute interval (0 disables)")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.RecomputeParallelism <= 0 {
		return Config{}, fmt.Errorf("recompute parallelism must be positive: %d", cfg.RecomputeParallelism)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
