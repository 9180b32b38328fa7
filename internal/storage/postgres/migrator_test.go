package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func scriptFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestReadMigrationScripts(t *testing.T) {
	fsys := scriptFS(map[string]string{
		"0002_add_outbox.up.sql":   "CREATE TABLE outbox_messages ()",
		"0002_add_outbox.down.sql": "DROP TABLE outbox_messages",
		"0001_init.up.sql":         "CREATE TABLE orders ()",
		"0001_init.down.sql":       "DROP TABLE orders",
	})

	scripts, err := readMigrationScripts(fsys)
	if err != nil {
		t.Fatalf("read scripts: %v", err)
	}

	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}
	if scripts[0].version != 1 || scripts[1].version != 2 {
		t.Fatalf("scripts must be sorted by version: %+v", scripts)
	}
	if scripts[0].name != "init" || scripts[1].name != "add_outbox" {
		t.Fatalf("unexpected names: %+v", scripts)
	}
	if !strings.Contains(scripts[1].up, "CREATE TABLE outbox_messages") {
		t.Fatalf("unexpected up body: %q", scripts[1].up)
	}
}

func TestReadMigrationScripts_Errors(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "missing down file",
			files: map[string]string{"0001_init.up.sql": "SELECT 1"},
			want:  "missing its up or down file",
		},
		{
			name: "bad suffix",
			files: map[string]string{
				"0001_init.sql": "SELECT 1",
			},
			want: "must end with",
		},
		{
			name: "bad version",
			files: map[string]string{
				"abc_init.up.sql":   "SELECT 1",
				"abc_init.down.sql": "SELECT 1",
			},
			want: "invalid version",
		},
		{
			name: "name conflict",
			files: map[string]string{
				"0001_init.up.sql":     "SELECT 1",
				"0001_schema.down.sql": "SELECT 1",
			},
			want: "conflicting names",
		},
		{
			name: "empty body",
			files: map[string]string{
				"0001_init.up.sql":   "   ",
				"0001_init.down.sql": "SELECT 1",
			},
			want: "is empty",
		},
		{
			name:  "no files",
			files: map[string]string{},
			want:  "no migration files",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readMigrationScripts(scriptFS(tc.files))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	scripts, err := readMigrationScripts(migrationFiles)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(scripts) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	if scripts[0].version != 1 {
		t.Fatalf("first migration version = %d", scripts[0].version)
	}
}
