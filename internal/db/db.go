package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotInitialized = errors.New("database not initialized")

var (
	db *sql.DB
	mu sync.Mutex
)

type Config struct {
	Path string
}

// Init opens the database and applies pending migrations. Calling it again
// before Close is a no-op.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if db != nil {
		return nil
	}

	conn, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := runMigrations(conn, migrationsFS); err != nil {
		conn.Close()
		return err
	}
	db = conn
	return nil
}

func GetDB() *sql.DB {
	mu.Lock()
	defer mu.Unlock()
	return db
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

type Migration struct {
	Version string
	SQL     string
}

func runMigrations(conn *sql.DB, fsys fs.FS) error {
	if _, err := conn.Exec(CreateMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := conn.Query(ListAppliedMigrations)
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(InsertMigration, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}

	return nil
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	var migrations []Migration
	err := fs.WalkDir(fsys, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", path, err)
		}

		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(filepath.Base(path), ".sql"),
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk migrations directory: %w", err)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
