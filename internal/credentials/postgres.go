package credentials

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store backed by a Postgres table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to databaseURL and migrates the credential
// table. An empty migrationsPath uses the migrations compiled into the binary.
func NewPostgresStore(ctx context.Context, databaseURL, migrationsPath string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres credential store")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func migrateUp(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "credential_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationsPath != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	} else {
		src, srcErr := iofs.New(migrationFS, "migrations")
		if srcErr != nil {
			return fmt.Errorf("failed to open embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, cred Credential) (string, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential: %w", err)
	}
	guid := NewGUID()
	_, err = s.db.ExecContext(ctx, `INSERT INTO source_credentials (guid, payload) VALUES ($1, $2)`, guid, payload)
	if err != nil {
		return "", fmt.Errorf("failed to store credential: %w", err)
	}
	return guid, nil
}

func (s *PostgresStore) Get(ctx context.Context, guid string) (Credential, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM source_credentials WHERE guid = $1`, guid).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, fmt.Errorf("%s: %w", guid, ErrNotFound)
		}
		return Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return Credential{}, fmt.Errorf("failed to decode credential %s: %w", guid, err)
	}
	return cred, nil
}

func (s *PostgresStore) Delete(ctx context.Context, guid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM source_credentials WHERE guid = $1`, guid); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
