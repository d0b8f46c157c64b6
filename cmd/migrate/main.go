package main

import (
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <up|down>\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up    apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down  roll back the most recent migration")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	if err := run(cfg, flag.Arg(0)); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}

func run(cfg *config.Config, command string) error {
	var action func(*migrate.Migrator) error
	switch command {
	case "up":
		action = (*migrate.Migrator).Up
	case "down":
		action = (*migrate.Migrator).Down
	default:
		usage()
		os.Exit(2)
	}

	migrator, err := migrate.NewMigrator(&cfg.Database, migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := action(migrator); err != nil {
		return err
	}

	log.Info().Str("command", command).Msg("migration finished")
	return nil
}
