// Package migrate applies the records schema and seed data.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

const (
	migrationsTable = "schema_migrations"
	seedSuffix      = ".seed.sql"
)

// Runner executes SQL migration and seed files against the database.
type Runner struct {
	db    *sql.DB
	files fs.FS
}

// NewRunner uses the embedded schema files.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, files: embedded}
}

// NewRunnerFS uses an explicit filesystem (tests).
func NewRunnerFS(db *sql.DB, files fs.FS) *Runner {
	return &Runner{db: db, files: files}
}

// Up applies all pending migrations in lexical order, then seeds.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}
	names, err := r.list()
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := r.exec(ctx, name); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			`insert into `+migrationsTable+`(name, applied_at) values ($1, $2)`,
			name, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// Status returns applied migration names in order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `select name from `+migrationsTable+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *Runner) list() ([]string, error) {
	entries, err := fs.ReadDir(r.files, "sql")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, "sql/"+entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+migrationsTable+` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`)
	return err
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+migrationsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (r *Runner) exec(ctx context.Context, name string) error {
	raw, err := fs.ReadFile(r.files, name)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// splitStatements splits on semicolons at line ends; the schema files
// avoid procedural bodies so this is sufficient.
func splitStatements(raw string) []string {
	return strings.Split(raw, ";\n")
}
