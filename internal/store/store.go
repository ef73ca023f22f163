// Package store is the persistence layer over the embedded sqlite
// database: jobs, client tasks, availability cache, STRM URL mappings
// and absolute-number mappings.
package store

import (
	"database/sql"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store provides query methods over the application database.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

// New creates a store over an open database connection.
func New(db *sql.DB, logger *zerolog.Logger) *Store {
	subLogger := logger.With().Str("component", "store").Logger()
	return &Store{db: db, logger: &subLogger}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}
