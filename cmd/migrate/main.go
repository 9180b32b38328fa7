package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run разбирает аргументы и выполняет команду миграции:
// migrate [-dsn ...] [-steps N] up|down|status
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		dsn   = fs.String("dsn", "", "PostgreSQL DSN (fallback: FOS_POSTGRES_DSN)")
		steps = fs.Int("steps", 0, "number of migrations to apply/rollback (0 = all for up, 1 for down)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	if command == "" {
		command = "status"
	}

	resolvedDSN := strings.TrimSpace(*dsn)
	if resolvedDSN == "" {
		resolvedDSN = strings.TrimSpace(os.Getenv("FOS_POSTGRES_DSN"))
	}
	if resolvedDSN == "" {
		return fmt.Errorf("postgres dsn is required (-dsn or FOS_POSTGRES_DSN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, resolvedDSN)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return execute(ctx, store, command, *steps, out)
}

func execute(ctx context.Context, store *postgres.Store, command string, steps int, out io.Writer) error {
	switch command {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unknown command %q (use up, down or status)", command)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Fprintf(out, "%s: version=%d applied=%d\n", command, version, applied)

	return nil
}
