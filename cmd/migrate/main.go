// Command migrate applies or rolls back the gateway's PostgreSQL schema.
//
//	migrate -cmd up
//	migrate -cmd down -steps 1
//	migrate -cmd version
//	migrate -cmd list
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/nysa-labs/nysa-gateway/internal/database/migrations"
	"github.com/nysa-labs/nysa-gateway/internal/database/postgres"
)

func main() {
	var (
		cmd     = flag.String("cmd", "up", "Command: up|down|version|list")
		steps   = flag.Int("steps", 1, "Number of migrations to roll back with -cmd down")
		dsn     = flag.String("database-url", "", "PostgreSQL DSN (defaults to DATABASE_URL)")
		envFile = flag.String("env", ".env", "Optional .env file")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}

	if err := run(*cmd, *steps, *dsn, os.Stdout); err != nil {
		log.Fatalf("migrate %s: %v", *cmd, err)
	}
}

func run(cmd string, steps int, dsn string, out io.Writer) error {
	if cmd == "list" {
		names, err := migrations.Files()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	}
	if cmd != "up" && cmd != "down" && cmd != "version" {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL or -database-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	mg, err := migrations.New(store.DB().DB)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down(steps)
	}
	if err != nil {
		return err
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
