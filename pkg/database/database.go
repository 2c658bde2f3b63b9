package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidChannel indicates a channel without an ID or name.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrInvalidMessage indicates a message that cannot be stored.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidReaction indicates a reaction that is not exactly one emoji.
	ErrInvalidReaction = errors.New("reaction must be a single emoji")
)

// DefaultQuoteSnippetLength is the number of characters of a quoted body kept in a QuoteSummary.
const DefaultQuoteSnippetLength = 120

// Options configures Open.
type Options struct {
	// Logger receives store diagnostics. Nil disables logging.
	Logger *zerolog.Logger
	// Metrics is optional.
	Metrics *Metrics
	// Cipher seals message content at rest when set.
	Cipher Cipher
	// QuoteSnippetLength bounds quoted bodies; 0 uses the default, negative disables truncation.
	QuoteSnippetLength int
}

// DB wraps the SQLite database connection
type DB struct {
	conn       *sql.DB // Read connection pool
	writeConn  *sql.DB // Dedicated write connection (1 connection)
	path       string
	log        zerolog.Logger
	metrics    *Metrics
	cipher     Cipher
	snippetLen int
}

// dsn builds a modernc DSN with per-connection pragmas so every pooled
// connection gets the same settings.
func dsn(path string, write bool) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(ON)")
	if write {
		// Read-merge-write transactions take the write lock up front.
		params.Set("_txlock", "immediate")
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}

// Open opens the store at path, creating it if needed, and brings the schema
// up to date. A migration failure is fatal and wraps ErrMigrationFailed.
func Open(path string, opts Options) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Multiple readers in WAL mode
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Create dedicated write connection (single connection, no pooling)
	writeConn, err := sql.Open("sqlite", dsn(path, true))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0) // Never expire

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "store").Logger()
	}

	snippetLen := opts.QuoteSnippetLength
	if snippetLen == 0 {
		snippetLen = DefaultQuoteSnippetLength
	}

	db := &DB{
		conn:       conn,
		writeConn:  writeConn,
		path:       path,
		log:        logger,
		metrics:    opts.Metrics,
		cipher:     opts.Cipher,
		snippetLen: snippetLen,
	}

	// This will backup the database if migrations are pending
	if err := runMigrations(writeConn, path, logger); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes both connections and returns the first error.
func (db *DB) Close() error {
	err := db.writeConn.Close()
	if connErr := db.conn.Close(); err == nil {
		err = connErr
	}
	return err
}

// Path returns the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	return getCurrentVersion(db.conn)
}

// Counts returns the number of channels, message rows and names in the store.
func (db *DB) Counts(ctx context.Context) (CopyStats, error) {
	var stats CopyStats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM channels),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM names)
	`).Scan(&stats.Channels, &stats.Messages, &stats.Names)
	if err != nil {
		return CopyStats{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return stats, nil
}

func (db *DB) observe(op string, start time.Time, err error) {
	db.metrics.observe(op, start, err)
}

// nullInt64 converts an optional key into a bindable value.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

// nullBlob binds an absent value as NULL rather than an empty blob.
func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
