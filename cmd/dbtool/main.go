package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <migrate|resolver-smoke> [args]")
	}

	switch os.Args[1] {
	case "migrate":
		migrate(os.Args[2:])
	case "resolver-smoke":
		resolverSmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

// migrate applies db/migrations/*.sql in filename order, each file in its
// own transaction.
func migrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	var dir string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&dir, "dir", "db/migrations", "migrations directory")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fatal(err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	if len(files) == 0 {
		fatalf("no .sql files under %s", dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fatal(err)
		}
		tx, err := conn.Begin(ctx)
		if err != nil {
			fatal(err)
		}
		if _, err := tx.Exec(ctx, string(b)); err != nil {
			_ = tx.Rollback(context.Background())
			fatalf("%s: %v", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			fatal(err)
		}
		fmt.Printf("applied %s\n", name)
	}
}

// resolverSmoke checks, against a live database, that pack resolution walks
// school -> district -> state and that version assignment is serialized by
// the unique constraint. Everything runs inside one rolled-back transaction.
func resolverSmoke(args []string) {
	fs := flag.NewFlagSet("resolver-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var actorID string
	if err := tx.QueryRow(ctx, `
INSERT INTO iam.principals (email, role_slug, status, password_sha256)
VALUES ('dbtool-smoke@localhost', 'admin', 'active', '\x00')
ON CONFLICT (email) DO UPDATE SET updated_at = now()
RETURNING id::text;`).Scan(&actorID); err != nil {
		fatal(err)
	}

	insertPack := func(scopeType, scopeID string, version int) {
		if _, err := tx.Exec(ctx, `
INSERT INTO compliance.rule_packs (id, scope_type, scope_id, plan_type, version, name, is_active, effective_from, created_by)
VALUES (gen_random_uuid(), $1, $2, 'IEP', $3, 'smoke', true, '2000-01-01', $4);`,
			scopeType, scopeID, version, actorID); err != nil {
			fatal(err)
		}
	}
	insertPack("STATE", "MD", 1)
	insertPack("DISTRICT", "SMOKE-DISTRICT", 1)

	resolve := func(scopeType, scopeID string) bool {
		var one int
		err := tx.QueryRow(ctx, `
SELECT 1 FROM compliance.rule_packs
WHERE scope_type = $1 AND scope_id = $2
  AND (plan_type = 'IEP' OR plan_type = 'ALL')
  AND is_active AND effective_from <= CURRENT_DATE
  AND (effective_to IS NULL OR effective_to >= CURRENT_DATE)
ORDER BY version DESC LIMIT 1;`, scopeType, scopeID).Scan(&one)
		if err == pgx.ErrNoRows {
			return false
		}
		if err != nil {
			fatal(err)
		}
		return true
	}

	if resolve("SCHOOL", "SMOKE-DISTRICT-001") {
		fatalf("unexpected school-level pack")
	}
	if !resolve("DISTRICT", "SMOKE-DISTRICT") {
		fatalf("district-level pack not found")
	}
	if !resolve("STATE", "MD") {
		fatalf("state-level pack not found")
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_dup_version;`); err != nil {
		fatal(err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO compliance.rule_packs (id, scope_type, scope_id, plan_type, version, name, is_active, effective_from, created_by)
VALUES (gen_random_uuid(), 'STATE', 'MD', 'IEP', 1, 'smoke-dup', true, '2000-01-01', $1);`, actorID)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_dup_version;`); rbErr != nil {
		fatal(rbErr)
	}
	if err == nil {
		fatalf("expected unique violation on duplicate pack version")
	}

	fmt.Println("resolver-smoke ok")
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
