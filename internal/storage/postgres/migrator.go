package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationFiles embed.FS

// advisoryLockKey сериализует миграции между конкурирующими инстансами.
const advisoryLockKey = int64(47021893)

const versionsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migrationScript — пара up/down файлов одной версии схемы.
type migrationScript struct {
	version int64
	name    string
	up      string
	down    string
}

// MigrateUp применяет недостающие up-миграции. steps=0 — применить все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.runMigrations(ctx, func(ctx context.Context, conn *sql.Conn, scripts []migrationScript) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		done := 0
		for _, script := range scripts {
			if applied[script.version] {
				continue
			}
			if steps > 0 && done >= steps {
				break
			}
			if err := execMigration(ctx, conn, script.up, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
					script.version, script.name)
				return err
			}); err != nil {
				return fmt.Errorf("up migration %d_%s: %w", script.version, script.name, err)
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает применённые миграции, новые первыми.
// steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.runMigrations(ctx, func(ctx context.Context, conn *sql.Conn, scripts []migrationScript) error {
		byVersion := make(map[int64]migrationScript, len(scripts))
		for _, script := range scripts {
			byVersion[script.version] = script
		}

		rows, err := conn.QueryContext(ctx,
			`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
		if err != nil {
			return fmt.Errorf("query versions to rollback: %w", err)
		}
		var pending []int64
		for rows.Next() {
			var v int64
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return fmt.Errorf("scan version: %w", err)
			}
			pending = append(pending, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate versions: %w", err)
		}

		for _, v := range pending {
			script, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("applied version %d has no migration file", v)
			}
			if err := execMigration(ctx, conn, script.down, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`DELETE FROM schema_migrations WHERE version = $1`, script.version)
				return err
			}); err != nil {
				return fmt.Errorf("down migration %d_%s: %w", script.version, script.name, err)
			}
		}
		return nil
	})
}

// MigrationStatus возвращает максимальную применённую версию и их число.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreClosed
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, versionsTable); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var version int64
	var count int
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, count, nil
}

// runMigrations берёт advisory lock на одном соединении и выполняет apply.
func (s *Store) runMigrations(ctx context.Context, apply func(context.Context, *sql.Conn, []migrationScript) error) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}

	scripts, err := readMigrationScripts(migrationFiles)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	}()

	if _, err := conn.ExecContext(ctx, versionsTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	return apply(ctx, conn, scripts)
}

// execMigration выполняет тело миграции и запись в журнал в одной транзакции.
func execMigration(ctx context.Context, conn *sql.Conn, body string, record func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// readMigrationScripts собирает пары NNNN_name.(up|down).sql из встроенной FS.
func readMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	entries, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no migration files embedded")
	}

	byVersion := make(map[int64]*migrationScript)
	for _, entry := range entries {
		file := path.Base(entry)

		var direction string
		var trimmed string
		switch {
		case strings.HasSuffix(file, ".up.sql"):
			direction = "up"
			trimmed = strings.TrimSuffix(file, ".up.sql")
		case strings.HasSuffix(file, ".down.sql"):
			direction = "down"
			trimmed = strings.TrimSuffix(file, ".down.sql")
		default:
			return nil, fmt.Errorf("migration file %s must end with .up.sql or .down.sql", file)
		}

		versionStr, name, ok := strings.Cut(trimmed, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migration file %s must be named NNNN_name.%s.sql", file, direction)
		}
		version, err := strconv.ParseInt(versionStr, 10, 64)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration file %s has invalid version %q", file, versionStr)
		}

		raw, err := fs.ReadFile(fsys, entry)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file %s is empty", file)
		}

		script, ok := byVersion[version]
		if !ok {
			script = &migrationScript{version: version, name: name}
			byVersion[version] = script
		} else if script.name != name {
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, script.name, name)
		}

		switch direction {
		case "up":
			if script.up != "" {
				return nil, fmt.Errorf("duplicate up file for version %d", version)
			}
			script.up = body
		case "down":
			if script.down != "" {
				return nil, fmt.Errorf("duplicate down file for version %d", version)
			}
			script.down = body
		}
	}

	scripts := make([]migrationScript, 0, len(byVersion))
	for _, script := range byVersion {
		if script.up == "" || script.down == "" {
			return nil, fmt.Errorf("version %d_%s is missing its up or down file", script.version, script.name)
		}
		scripts = append(scripts, *script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}
