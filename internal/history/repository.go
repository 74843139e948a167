package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"drcare/internal/session"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStoreLocked means another process, usually a running server, holds
	// the local history file.
	ErrStoreLocked = errors.New("history store is held by a running server; use GET /api/history")
)

// Repository stores history records. Insert is idempotent by record ID and
// List returns records in insertion order.
type Repository interface {
	Insert(ctx context.Context, rec session.Record) error
	List(ctx context.Context) ([]session.Record, error)
	Get(ctx context.Context, id string) (session.Record, error)
	Close() error
}

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations to db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type postgresRepo struct {
	db *sql.DB
}

// NewPostgresRepository expects the schema from Migrate.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const selectRecord = `SELECT id, record_date, record_time, record_type, symptoms, diagnosis, patient, created_at FROM session_records`

func (r *postgresRepo) Insert(ctx context.Context, rec session.Record) error {
	patientJSON, err := json.Marshal(rec.Patient)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO session_records (id, record_date, record_time, record_type, symptoms, diagnosis, patient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Date, rec.Time, rec.RecordType, rec.Symptoms, rec.Diagnosis, patientJSON, rec.CreatedAt)
	return err
}

func (r *postgresRepo) List(ctx context.Context) ([]session.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Get(ctx context.Context, id string) (session.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, ErrNotFound
	}
	return rec, err
}

func (r *postgresRepo) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (session.Record, error) {
	var rec session.Record
	var patientJSON []byte
	err := row.Scan(
		&rec.ID,
		&rec.Date,
		&rec.Time,
		&rec.RecordType,
		&rec.Symptoms,
		&rec.Diagnosis,
		&patientJSON,
		&rec.CreatedAt,
	)
	if err != nil {
		return session.Record{}, err
	}
	if len(patientJSON) > 0 {
		if err := json.Unmarshal(patientJSON, &rec.Patient); err != nil {
			return session.Record{}, fmt.Errorf("failed to unmarshal patient: %w", err)
		}
	}
	return rec, nil
}
