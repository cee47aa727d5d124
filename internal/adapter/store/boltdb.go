package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.etcd.io/bbolt"
	"notesrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	bucketRecords = []byte("records")
	bucketKeys    = []byte("keys")
	bucketMeta    = []byte("meta")

	keySchemaVersion = []byte("schema_version")
	keyModel         = []byte("embedding_model")
	keyDimension     = []byte("dimension")
	keyFingerprint   = []byte("fingerprint")
)

// BoltStore persists index records in BoltDB and searches them by brute
// force over an in-memory copy.
type BoltStore struct {
	db         *bbolt.DB
	model      string
	configured int
	dimension  int

	mu sync.RWMutex
	// stale is set when the file was written by another model or schema.
	stale   error
	records map[uint64]storedRecord
}

type storedRecord struct {
	Document string    `json:"d"`
	Sequence int       `json:"s"`
	Content  string    `json:"c"`
	Vector   []float32 `json:"v"`
}

// NewBoltStore opens the database at path. Records written by a different
// embedding model are refused until the store is cleared.
func NewBoltStore(path, model string, dimension int) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRecords, bucketKeys, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:         db,
		model:      model,
		configured: dimension,
		dimension:  dimension,
		records:    make(map[uint64]storedRecord),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// load checks the stored metadata and reads all records into memory.
func (s *BoltStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchemaVersion); v != nil {
			if version, _ := strconv.Atoi(string(v)); version != CurrentSchemaVersion {
				s.stale = domain.IntegrityError("index schema version %s is not supported (want %d), rebuild the index", v, CurrentSchemaVersion)
			}
		}
		if v := meta.Get(keyModel); v != nil && s.model != "" && string(v) != s.model {
			s.stale = domain.IntegrityError("index was built with embedding model %q, configured model is %q", v, s.model)
		}
		if v := meta.Get(keyDimension); v != nil {
			stored, _ := strconv.Atoi(string(v))
			if s.dimension != 0 && stored != s.dimension {
				s.stale = domain.IntegrityError("index dimension %d does not match configured dimension %d", stored, s.dimension)
			} else {
				s.dimension = stored
			}
		}

		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip corrupted entries
			}
			s.records[binary.BigEndian.Uint64(k)] = rec
			return nil
		})
	})
}

func recordKeyBytes(document string, sequence int) []byte {
	key := make([]byte, 0, len(document)+9)
	key = append(key, document...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(sequence))
}

func documentPrefix(document string) []byte {
	return append([]byte(document), 0)
}

func (s *BoltStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return s.write(records, nil)
}

// ReplaceDocument swaps the document's records for records in a single
// transaction. Sequences that survive keep their insertion order.
func (s *BoltStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReplacement(document, records); err != nil {
		return err
	}
	return s.write(records, &document)
}

// write puts records and, when document is set, drops that document's
// records whose sequence is not among them.
func (s *BoltStore) write(records []domain.IndexRecord, document *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale != nil {
		return s.stale
	}
	dimension := s.dimension
	if err := validateRecords(records, s.model, &dimension); err != nil {
		return err
	}

	var written map[uint64]storedRecord
	var removed []uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		if written, err = putRecords(tx, records); err != nil {
			return err
		}
		if document != nil {
			keep := make(map[int]bool, len(records))
			for _, r := range records {
				keep[r.Sequence] = true
			}
			if removed, err = deleteKeys(tx, *document, keep); err != nil {
				return err
			}
		}
		if len(records) == 0 {
			return nil
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keySchemaVersion, []byte(strconv.Itoa(CurrentSchemaVersion))); err != nil {
			return err
		}
		if s.model != "" {
			if err := meta.Put(keyModel, []byte(s.model)); err != nil {
				return err
			}
		}
		return meta.Put(keyDimension, []byte(strconv.Itoa(dimension)))
	})
	if err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	s.dimension = dimension
	for _, order := range removed {
		delete(s.records, order)
	}
	for order, rec := range written {
		s.records[order] = rec
	}
	return nil
}

func putRecords(tx *bbolt.Tx, records []domain.IndexRecord) (map[uint64]storedRecord, error) {
	recs := tx.Bucket(bucketRecords)
	keys := tx.Bucket(bucketKeys)

	written := make(map[uint64]storedRecord, len(records))
	for _, r := range records {
		rk := recordKeyBytes(r.Document, r.Sequence)
		var order uint64
		if existing := keys.Get(rk); existing != nil {
			order = binary.BigEndian.Uint64(existing)
		} else {
			next, err := recs.NextSequence()
			if err != nil {
				return nil, err
			}
			order = next
			if err := keys.Put(rk, binary.BigEndian.AppendUint64(nil, order)); err != nil {
				return nil, err
			}
		}

		rec := storedRecord{Document: r.Document, Sequence: r.Sequence, Content: r.Content, Vector: r.Embedding}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := recs.Put(binary.BigEndian.AppendUint64(nil, order), data); err != nil {
			return nil, err
		}
		written[order] = rec
	}
	return written, nil
}

// deleteKeys removes the document's records except the kept sequences and
// returns the insertion orders it removed.
func deleteKeys(tx *bbolt.Tx, document string, keep map[int]bool) ([]uint64, error) {
	recs := tx.Bucket(bucketRecords)
	keys := tx.Bucket(bucketKeys)

	prefix := documentPrefix(document)
	var doomed [][]byte
	var removed []uint64
	c := keys.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		if keep[int(binary.BigEndian.Uint64(k[len(prefix):]))] {
			continue
		}
		doomed = append(doomed, append([]byte(nil), k...))
		removed = append(removed, binary.BigEndian.Uint64(v))
	}
	for _, k := range doomed {
		if err := keys.Delete(k); err != nil {
			return nil, err
		}
	}
	for _, order := range removed {
		if err := recs.Delete(binary.BigEndian.AppendUint64(nil, order)); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// Search finds the k nearest records to the query using cosine similarity.
func (s *BoltStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stale != nil {
		return nil, s.stale
	}
	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}

	matches := make([]domain.RetrievalMatch, 0, len(s.records))
	for order, rec := range s.records {
		matches = append(matches, domain.RetrievalMatch{
			Content:     rec.Content,
			Similarity:  cosineSimilarity(query, rec.Vector),
			Document:    rec.Document,
			Sequence:    rec.Sequence,
			InsertOrder: order,
		})
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *BoltStore) DeleteDocument(ctx context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		removed, err = deleteKeys(tx, document, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", document, err)
	}

	for _, order := range removed {
		delete(s.records, order)
	}
	return nil
}

// Count returns the number of records in the store.
func (s *BoltStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Documents lists stored document names in key order.
func (s *BoltStore) Documents(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, _ []byte) error {
			i := bytes.IndexByte(k, 0)
			if i < 0 {
				return nil
			}
			name := string(k[:i])
			if len(names) == 0 || names[len(names)-1] != name {
				names = append(names, name)
			}
			return nil
		})
	})
	return names, err
}

func (s *BoltStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.db.View(func(tx *bbolt.Tx) error {
		fp = string(tx.Bucket(bucketMeta).Get(keyFingerprint))
		return nil
	})
	return fp, err
}

func (s *BoltStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyFingerprint, []byte(fingerprint))
	})
}

// Clear removes all records and metadata.
func (s *BoltStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRecords, bucketKeys, bucketMeta} {
			if err := tx.DeleteBucket(b); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	s.records = make(map[uint64]storedRecord)
	s.stale = nil
	s.dimension = s.configured
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
