// Command migrate applies or rolls back the paygate schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/paygate/internal/infra/config"
	"github.com/coachpo/paygate/internal/infra/persistence/migrations"
	"github.com/coachpo/paygate/internal/observability"
)

const defaultTimeout = 30 * time.Second

type command struct {
	up    bool
	steps int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath = flag.String("config", "config/app.yaml", "Application config providing database.dsn")
		dsn     = flag.String("database", "", "PostgreSQL DSN; overrides the config file and "+config.EnvDatabaseDSN)
		dir     = flag.String("path", "", "Directory containing SQL migrations (default: migrations embedded in the binary)")
		timeout = flag.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet   = flag.Bool("quiet", false, "Suppress informational logs")
	)
	flag.Parse()

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := strings.TrimSpace(*dsn)
	if target == "" {
		cfg, _, err := config.LoadOrDefault(ctx, *cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		target = cfg.Database.DSN
	}
	if target == "" {
		return errors.New("database DSN required (-database, " + config.EnvDatabaseDSN + " or config)")
	}

	logger := observability.NopLogger()
	if !*quiet {
		zl, err := observability.NewZapLogger(observability.DevelopmentMode)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = zl.Sync() }()
		logger = zl.With(observability.F("component", "paygate-migrate"))
	}

	source := strings.TrimSpace(*dir)
	switch {
	case cmd.up && source == "":
		return migrations.ApplyEmbedded(ctx, target, logger)
	case cmd.up:
		return migrations.Apply(ctx, target, source, logger)
	case source == "":
		return errors.New("down requires -path pointing at the migrations directory")
	default:
		return migrations.Rollback(ctx, target, source, cmd.steps, logger)
	}
}

// parseCommand accepts "up" or "down [steps]".
func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("command required (up|down [steps])")
	}
	switch args[0] {
	case "up":
		if len(args) > 1 {
			return command{}, fmt.Errorf("up takes no arguments, got %q", args[1:])
		}
		return command{up: true}, nil
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return command{}, fmt.Errorf("invalid down steps %q", args[1])
			}
			steps = n
		}
		return command{steps: steps}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}
