package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	"notesrag/internal/domain"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SQLiteStore keeps records in a SQLite table with embeddings encoded as
// little-endian float32 blobs. Search scans the table.
type SQLiteStore struct {
	db         *sql.DB
	table      string
	model      string
	configured int

	mu        sync.RWMutex
	dimension int
	stale     error
}

// NewSQLiteStore opens (or creates) the database at dsn and prepares table.
func NewSQLiteStore(ctx context.Context, dsn, table, model string, dimension int) (*SQLiteStore, error) {
	if table == "" {
		table = "records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, domain.ConfigError("invalid sqlite table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, table: table, model: model, configured: dimension, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkMeta(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) metaTable() string { return s.table + "_meta" }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			insert_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			document   TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			UNIQUE(document, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.metaTable() + ` (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM `+s.metaTable()+` WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) setMeta(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO `+s.metaTable()+` (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteStore) checkMeta(ctx context.Context) error {
	version, err := s.getMeta(ctx, string(keySchemaVersion))
	if err != nil {
		return fmt.Errorf("failed to read sqlite metadata: %w", err)
	}
	if version != "" && version != strconv.Itoa(CurrentSchemaVersion) {
		s.stale = domain.IntegrityError("index schema version %s is not supported (want %d), rebuild the index", version, CurrentSchemaVersion)
	}
	model, err := s.getMeta(ctx, string(keyModel))
	if err != nil {
		return fmt.Errorf("failed to read sqlite metadata: %w", err)
	}
	if model != "" && s.model != "" && model != s.model {
		s.stale = domain.IntegrityError("index was built with embedding model %q, configured model is %q", model, s.model)
	}
	dim, err := s.getMeta(ctx, string(keyDimension))
	if err != nil {
		return fmt.Errorf("failed to read sqlite metadata: %w", err)
	}
	if dim != "" {
		stored, _ := strconv.Atoi(dim)
		if s.dimension != 0 && stored != s.dimension {
			s.stale = domain.IntegrityError("index dimension %d does not match configured dimension %d", stored, s.dimension)
		} else {
			s.dimension = stored
		}
	}
	return nil
}

func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, domain.IntegrityError("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return ctx.Err()
	}
	return s.write(ctx, records, nil)
}

// ReplaceDocument swaps the document's records for records in one
// transaction. Sequences that survive keep their insertion order.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReplacement(document, records); err != nil {
		return err
	}
	return s.write(ctx, records, &document)
}

func (s *SQLiteStore) write(ctx context.Context, records []domain.IndexRecord, document *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale != nil {
		return s.stale
	}
	dimension := s.dimension
	if err := validateRecords(records, s.model, &dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+s.table+` (document, sequence, content, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(document, sequence) DO UPDATE SET content = excluded.content, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Document, r.Sequence, r.Content, encodeEmbedding(r.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert %s#%d: %w", r.Document, r.Sequence, err)
		}
	}
	if document != nil {
		if err := s.deleteStale(ctx, tx, *document, records); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		if err := s.setMeta(ctx, tx, string(keySchemaVersion), strconv.Itoa(CurrentSchemaVersion)); err != nil {
			return err
		}
		if s.model != "" {
			if err := s.setMeta(ctx, tx, string(keyModel), s.model); err != nil {
				return err
			}
		}
		if err := s.setMeta(ctx, tx, string(keyDimension), strconv.Itoa(dimension)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	s.dimension = dimension
	return nil
}

// deleteStale removes the document's rows whose sequence records no longer carry.
func (s *SQLiteStore) deleteStale(ctx context.Context, tx *sql.Tx, document string, records []domain.IndexRecord) error {
	rows, err := tx.QueryContext(ctx, `SELECT sequence FROM `+s.table+` WHERE document = ?`, document)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", document, err)
	}
	var stored []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return err
		}
		stored = append(stored, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, seq := range staleSequences(stored, records) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document = ? AND sequence = ?`, document, seq); err != nil {
			return fmt.Errorf("failed to delete %s#%d: %w", document, seq, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stale != nil {
		return nil, s.stale
	}
	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT insert_seq, document, sequence, content, embedding FROM `+s.table)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	var matches []domain.RetrievalMatch
	for rows.Next() {
		var (
			m    domain.RetrievalMatch
			seq  int64
			blob []byte
		)
		if err := rows.Scan(&seq, &m.Document, &m.Sequence, &m.Content, &blob); err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		m.Similarity = cosineSimilarity(query, vec)
		m.InsertOrder = uint64(seq)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document = ?`, document); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", document, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT document FROM `+s.table+` ORDER BY document`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
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

func (s *SQLiteStore) Fingerprint(ctx context.Context) (string, error) {
	return s.getMeta(ctx, string(keyFingerprint))
}

func (s *SQLiteStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	return s.setMeta(ctx, s.db, string(keyFingerprint), fingerprint)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range []string{`DELETE FROM ` + s.table, `DELETE FROM ` + s.metaTable()} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}
	s.stale = nil
	s.dimension = s.configured
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
