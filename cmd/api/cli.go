package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
)

const (
	exitOK      = 0
	exitUsage   = 2
	exitConfig  = 3
	exitMigrate = 4
)

const migrationsDir = "./migrations"

// swapped out in tests
var (
	migrateRunner = realMigrateRunner
	osExit        = os.Exit
)

// handleCLICommand intercepts subcommands before the server starts. It
// returns false for a bare invocation (or anything unrecognized) so main
// falls through to serving HTTP.
func handleCLICommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "migrate":
		osExit(runMigrate(args[1:]))
		return true
	case "help", "-h", "--help":
		printHelp()
		osExit(exitOK)
		return true
	}
	return false
}

var migrateActions = map[string]func(*sql.DB, string) error{
	"up":     func(db *sql.DB, dir string) error { return goose.Up(db, dir) },
	"down":   func(db *sql.DB, dir string) error { return goose.Down(db, dir) },
	"status": func(db *sql.DB, dir string) error { return goose.Status(db, dir) },
}

func runMigrate(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dispatch migrate <up|down|status>")
		return exitUsage
	}
	action := args[0]
	if _, ok := migrateActions[action]; !ok {
		fmt.Fprintf(os.Stderr, "dispatch migrate: %q is not one of up, down, status\n", action)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch migrate: load config: %v\n", err)
		return exitConfig
	}

	if migrateRunner == nil {
		migrateRunner = realMigrateRunner
	}
	if err := migrateRunner(action, cfg.DatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "dispatch migrate %s: %v\n", action, err)
		return exitMigrate
	}
	return exitOK
}

func realMigrateRunner(action, databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	run, ok := migrateActions[action]
	if !ok {
		return fmt.Errorf("no such migrate action %q", action)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return run(db, migrationsDir)
}

func printHelp() {
	fmt.Print(`dispatch - letter delivery API

  dispatch                 serve the HTTP API
  dispatch migrate up      apply pending schema migrations
  dispatch migrate down    undo the most recent migration
  dispatch migrate status  list applied and pending migrations
`)
}
