// Package sqlite implements the durable link store using SQLite via
// modernc.org/sqlite, with embedded goose migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/linkstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements linkstore.Store on SQLite.
type Store struct {
	write *sql.DB // single-writer connection
	read  *sql.DB // multi-reader pool
}

var _ linkstore.Store = (*Store)(nil)

// New opens a SQLite database, runs migrations, and returns a Store.
func New(dsn string) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	// For :memory: databases, use shared cache so read/write pools
	// share the same data.
	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// runMigrations applies embedded SQL migrations using goose. fs.Sub
// strips the "migrations/" prefix so goose sees files at the FS root.
func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping verifies database connectivity by pinging the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both database connections.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}

// Put mints a token and inserts the link record.
func (s *Store) Put(ctx context.Context, rec linkstore.Record) (string, error) {
	token := gateway.MintToken()
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO links (token, object_id, source_chat_id, file_name, file_size,
		 mime_type, caption, domain_tag, thumbnail_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token, rec.ObjectID, rec.SourceChatID,
		rec.Display.FileName, rec.Display.FileSize, rec.Display.MimeType, rec.Display.Caption,
		rec.DomainTag, rec.ThumbnailURL, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Get returns the record for token, honoring domain tag filtering.
func (s *Store) Get(ctx context.Context, token, requireDomain string) (*gateway.LinkRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT token, object_id, source_chat_id, file_name, file_size,
		 mime_type, caption, domain_tag, thumbnail_url, created_at
		 FROM links WHERE token = ?`, token,
	)
	var rec gateway.LinkRecord
	var createdAt string
	err := row.Scan(&rec.Token, &rec.ObjectID, &rec.SourceChatID,
		&rec.Display.FileName, &rec.Display.FileSize, &rec.Display.MimeType, &rec.Display.Caption,
		&rec.DomainTag, &rec.ThumbnailURL, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if requireDomain != "" && rec.DomainTag != "" && rec.DomainTag != requireDomain {
		return nil, gateway.ErrNotFound
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}

// Delete removes a record; deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM links WHERE token = ?`, token)
	return err
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}
