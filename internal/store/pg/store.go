// Package pg persists the records backend in Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"portafirmas.dev/internal/backend"
	"portafirmas.dev/internal/firmas"
	"portafirmas.dev/internal/session"
)

// Store implements backend.Store over database/sql with the pgx driver.
type Store struct {
	db *sql.DB
}

var _ backend.Store = (*Store)(nil)

// Open connects to Postgres with pool defaults tuned for the records
// workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(ctx context.Context) backend.UserStore         { return userStore{db: s.db} }
func (s *Store) Pages(ctx context.Context) backend.PageStore         { return pageStore{db: s.db} }
func (s *Store) Documents(ctx context.Context) backend.DocumentStore { return documentStore{db: s.db} }

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, name, password_hash, status, coalesce(signature_url, ''), signature_url is not null, created_at, updated_at`

func (u userStore) Find(ctx context.Context, id int64) (*backend.User, error) {
	row := u.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*backend.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := u.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*backend.User, error) {
	var user backend.User
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Status,
		&user.SignatureURL, &user.HasSignature, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (u userStore) Roles(ctx context.Context, userID int64) ([]backend.Role, error) {
	rows, err := u.db.QueryContext(ctx, `
		select r.id, r.name
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []backend.Role
	for rows.Next() {
		var role backend.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (u userStore) Pages(ctx context.Context, userID int64) ([]session.Page, error) {
	rows, err := u.db.QueryContext(ctx, `
		select distinct p.id, p.code, p.name, p.path, coalesce(p.icon, ''), p.ord
		from pages p
		join role_pages rp on rp.page_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by p.ord, p.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPages(rows)
}

type pageStore struct {
	db *sql.DB
}

func (p pageStore) List(ctx context.Context) ([]session.Page, error) {
	rows, err := p.db.QueryContext(ctx, `
		select id, code, name, path, coalesce(icon, ''), ord
		from pages
		order by ord, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPages(rows)
}

func (p pageStore) ForRole(ctx context.Context, roleID int64) ([]session.Page, error) {
	rows, err := p.db.QueryContext(ctx, `
		select p.id, p.code, p.name, p.path, coalesce(p.icon, ''), p.ord
		from pages p
		join role_pages rp on rp.page_id = p.id
		where rp.role_id = $1
		order by p.ord, p.id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPages(rows)
}

func (p pageStore) SetForRole(ctx context.Context, roleID int64, pageIDs []int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_pages where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pageID := range pageIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_pages(role_id, page_id) values($1, $2)
			on conflict do nothing
		`, roleID, pageID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanPages(rows *sql.Rows) ([]session.Page, error) {
	var pages []session.Page
	for rows.Next() {
		var page session.Page
		if err := rows.Scan(&page.ID, &page.Code, &page.Name, &page.Path, &page.Icon, &page.Order); err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

type documentStore struct {
	db *sql.DB
}

func (d documentStore) Responsables(ctx context.Context, documentID int64) (*firmas.Responsables, error) {
	rows, err := d.db.QueryContext(ctx, `
		select a.id, a.user_id, u.name, coalesce(u.puesto, ''), coalesce(u.gerencia, ''), a.responsabilidad
		from responsabilidades a
		join users u on u.id = a.user_id
		where a.document_id = $1
		order by a.orden, a.id
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &firmas.Responsables{}
	found := false
	for rows.Next() {
		var (
			asig firmas.Asignacion
			rol  string
		)
		if err := rows.Scan(&asig.ResponsabilidadID, &asig.UserID, &asig.Nombre, &asig.Puesto, &asig.Gerencia, &rol); err != nil {
			return nil, err
		}
		found = true
		switch rol {
		case firmas.RolElabora:
			a := asig
			out.Elabora = &a
		case firmas.RolRevisa:
			out.Revisa = append(out.Revisa, asig)
		case firmas.RolAprueba:
			out.Aprueba = append(out.Aprueba, asig)
		case firmas.RolEnterado:
			out.Enterado = append(out.Enterado, asig)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, backend.ErrNotFound
	}
	return out, nil
}

func (d documentStore) Entries(ctx context.Context, documentID int64) ([]firmas.Entry, error) {
	rows, err := d.db.QueryContext(ctx, `
		select user_id, esta_firmado, fecha_firma
		from responsabilidades
		where document_id = $1
		order by orden, id
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []firmas.Entry
	for rows.Next() {
		var (
			entry firmas.Entry
			at    sql.NullTime
		)
		if err := rows.Scan(&entry.UserID, &entry.Firmado, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			t := at.Time
			entry.FechaFirma = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (d documentStore) Sign(ctx context.Context, documentID, responsabilidadID, userID int64, at time.Time) error {
	var (
		ownerID int64
		firmado bool
	)
	err := d.db.QueryRowContext(ctx, `
		select user_id, esta_firmado
		from responsabilidades
		where id = $1 and document_id = $2
	`, responsabilidadID, documentID).Scan(&ownerID, &firmado)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.ErrNotFound
	}
	if err != nil {
		return err
	}
	if ownerID != userID {
		return backend.ErrNotAssigned
	}
	if firmado {
		return backend.ErrAlreadySigned
	}

	_, err = d.db.ExecContext(ctx, `
		update responsabilidades
		set esta_firmado = true, fecha_firma = $1
		where id = $2 and esta_firmado = false
	`, at, responsabilidadID)
	return err
}
