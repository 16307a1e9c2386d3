// Package checkpoint persists replay buffer snapshots to SQLite so a
// training run can round-trip a buffer's contents across restarts.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/cartridge/expreplay"
)

// ErrNotFound is returned when no snapshot exists for the requested
// buffer ID.
var ErrNotFound = errors.New("checkpoint: snapshot not found")

// Store keeps buffer snapshots in a SQLite database, one row per buffer
// keyed by the buffer's ID. Saving again under the same ID replaces the
// previous snapshot.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger attaches a logger. The default is zerolog.Nop().
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens or creates the checkpoint database at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buffers (
			id       TEXT PRIMARY KEY,
			schema   TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			size     INTEGER NOT NULL,
			cursor   INTEGER NOT NULL,
			saved_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS columns (
			buffer_id TEXT NOT NULL REFERENCES buffers(id) ON DELETE CASCADE,
			field     TEXT NOT NULL,
			data      BLOB NOT NULL,
			PRIMARY KEY (buffer_id, field)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a snapshot of the buffer, replacing any previous snapshot
// stored under the same buffer ID.
func (s *Store) Save(ctx context.Context, b *expreplay.Buffer) error {
	snap := b.Snapshot()

	schemaJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO buffers (id, schema, capacity, size, cursor, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, string(schemaJSON), snap.Capacity, snap.Size, snap.Cursor, snap.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write buffer row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM columns WHERE buffer_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear old columns: %w", err)
	}

	for _, f := range snap.Fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO columns (buffer_id, field, data) VALUES (?, ?, ?)
		`, snap.ID, f.Name, encodeColumn(snap.Columns[f.Name])); err != nil {
			return fmt.Errorf("write column %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug().
		Str("buffer_id", snap.ID).
		Int("size", snap.Size).
		Int("capacity", snap.Capacity).
		Msg("buffer snapshot saved")
	return nil
}

// Load reconstructs the buffer stored under id. Options are forwarded to
// the rebuilt buffer, so callers can reattach a random source or logger.
func (s *Store) Load(ctx context.Context, id string, opts ...expreplay.Option) (*expreplay.Buffer, error) {
	var (
		schemaJSON string
		snap       expreplay.Snapshot
	)
	snap.ID = id

	err := s.db.QueryRowContext(ctx, `
		SELECT schema, capacity, size, cursor FROM buffers WHERE id = ?
	`, id).Scan(&schemaJSON, &snap.Capacity, &snap.Size, &snap.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read buffer row: %w", err)
	}

	if err := json.Unmarshal([]byte(schemaJSON), &snap.Fields); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, data FROM columns WHERE buffer_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	defer rows.Close()

	snap.Columns = make(map[string][]float64, len(snap.Fields))
	for rows.Next() {
		var (
			field string
			data  []byte
		)
		if err := rows.Scan(&field, &data); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col, err := decodeColumn(data)
		if err != nil {
			return nil, fmt.Errorf("decode column %q: %w", field, err)
		}
		snap.Columns[field] = col
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	b, err := expreplay.FromSnapshot(&snap, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("buffer_id", id).
		Int("size", snap.Size).
		Msg("buffer snapshot loaded")
	return b, nil
}

// Info describes one stored snapshot.
type Info struct {
	ID       string
	Capacity int
	Size     int
	SavedAt  time.Time
}

// List returns metadata for every stored snapshot, newest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capacity, size, saved_at FROM buffers ORDER BY saved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info    Info
			savedAt string
		)
		if err := rows.Scan(&info.ID, &info.Capacity, &info.Size, &savedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			info.SavedAt = t
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes the snapshot stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM buffers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// encodeColumn packs a column as little-endian IEEE 754 doubles.
func encodeColumn(col []float64) []byte {
	buf := make([]byte, 8*len(col))
	for i, v := range col {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeColumn(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(data))
	}
	col := make([]float64, len(data)/8)
	for i := range col {
		col[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return col, nil
}
