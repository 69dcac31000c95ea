package artifacts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sha1n/artifact-index/internal/domain"
	"github.com/sha1n/artifact-index/internal/indexfmt"
	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")

	keySequence  = []byte("sequence")
	keyTimestamp = []byte("timestamp")
	keyCount     = []byte("count")
)

// DefaultStoreOpenTimeout bounds waiting for another process holding the store
const DefaultStoreOpenTimeout = 5 * time.Second

// StoredState is the committed content of a record store.
type StoredState struct {
	// Sequence increases with every commit, whichever process made it.
	Sequence  uint64
	Timestamp int64
	Records   map[string]domain.ArtifactRecord
}

// RecordStore persists the records of one index context in a bbolt file.
// The file is opened per operation so that several processes can share it;
// every write is a single transaction.
type RecordStore struct {
	path        string
	openTimeout time.Duration
}

// NewRecordStore creates a store for the given file path.
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{path: path, openTimeout: DefaultStoreOpenTimeout}
}

// Path returns the store file path.
func (s *RecordStore) Path() string {
	return s.path
}

// Exists reports whether the store file exists.
func (s *RecordStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Remove deletes the store file.
func (s *RecordStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove record store: %w", err)
	}
	return nil
}

func (s *RecordStore) open(readOnly bool) (*bbolt.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: s.openTimeout, ReadOnly: readOnly})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return db, nil
}

// Load reads the committed state. It returns nil when the store is missing or
// has never been committed. Undecodable content yields ErrCorruptStore.
func (s *RecordStore) Load() (state *StoredState, err error) {
	if !s.Exists() {
		return nil, nil
	}
	db, err := s.open(true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		records := tx.Bucket(bucketRecords)
		if meta == nil || records == nil {
			return nil
		}

		seqRaw, tsRaw, countRaw := meta.Get(keySequence), meta.Get(keyTimestamp), meta.Get(keyCount)
		if seqRaw == nil {
			return nil
		}
		if len(seqRaw) != 8 || len(tsRaw) != 8 || len(countRaw) != 8 {
			return fmt.Errorf("%w: malformed metadata", ErrCorruptStore)
		}

		st := &StoredState{
			Sequence:  binary.BigEndian.Uint64(seqRaw),
			Timestamp: int64(binary.BigEndian.Uint64(tsRaw)),
			Records:   make(map[string]domain.ArtifactRecord),
		}
		err := records.ForEach(func(k, v []byte) error {
			rec, err := indexfmt.DecodeRecord(v)
			if err != nil {
				return fmt.Errorf("%w: record %q: %v", ErrCorruptStore, k, err)
			}
			if rec.Key() != string(k) {
				return fmt.Errorf("%w: record key mismatch %q", ErrCorruptStore, k)
			}
			st.Records[string(k)] = rec
			return nil
		})
		if err != nil {
			return err
		}
		if want := binary.BigEndian.Uint64(countRaw); uint64(len(st.Records)) != want {
			return fmt.Errorf("%w: %d records, metadata says %d", ErrCorruptStore, len(st.Records), want)
		}
		state = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Sequence returns the sequence of the last commit without loading records,
// or 0 when nothing was committed.
func (s *RecordStore) Sequence() (seq uint64, err error) {
	if !s.Exists() {
		return 0, nil
	}
	db, err := s.open(true)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	err = db.View(func(tx *bbolt.Tx) error {
		seq, err = readSequence(tx)
		return err
	})
	return seq, err
}

// ReplaceAll replaces the stored records with records in one transaction and
// returns the new sequence.
func (s *RecordStore) ReplaceAll(timestamp int64, records map[string]domain.ArtifactRecord) (uint64, error) {
	var seq uint64
	err := s.update(func(tx *bbolt.Tx) error {
		prev, err := readSequence(tx)
		if err != nil {
			return err
		}
		if tx.Bucket(bucketRecords) != nil {
			if err := tx.DeleteBucket(bucketRecords); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return err
		}
		for key, rec := range records {
			data, err := indexfmt.EncodeRecord(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		seq = prev + 1
		return putMeta(tx, seq, timestamp, uint64(len(records)))
	})
	return seq, err
}

// ApplyChanges upserts and deletes records and updates the metadata in one
// transaction. The store must still be at sequence expected, otherwise the
// changes are rejected with ErrStaleGeneration. count is the resulting number
// of records. It returns the new sequence.
func (s *RecordStore) ApplyChanges(expected uint64, timestamp int64, upserts []domain.ArtifactRecord, deletes []string, count int) (uint64, error) {
	var seq uint64
	err := s.update(func(tx *bbolt.Tx) error {
		prev, err := readSequence(tx)
		if err != nil {
			return err
		}
		if prev != expected {
			return fmt.Errorf("%w: store at sequence %d, expected %d", ErrStaleGeneration, prev, expected)
		}
		b, err := tx.CreateBucketIfNotExists(bucketRecords)
		if err != nil {
			return err
		}
		for _, key := range deletes {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		for _, rec := range upserts {
			data, err := indexfmt.EncodeRecord(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.Key()), data); err != nil {
				return err
			}
		}
		seq = prev + 1
		return putMeta(tx, seq, timestamp, uint64(count))
	})
	return seq, err
}

func (s *RecordStore) update(fn func(tx *bbolt.Tx) error) (err error) {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := db.Update(fn); err != nil {
		return fmt.Errorf("record store commit failed: %w", err)
	}
	return nil
}

func readSequence(tx *bbolt.Tx) (uint64, error) {
	meta := tx.Bucket(bucketMeta)
	if meta == nil {
		return 0, nil
	}
	raw := meta.Get(keySequence)
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: malformed sequence", ErrCorruptStore)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func putMeta(tx *bbolt.Tx, seq uint64, timestamp int64, count uint64) error {
	meta, err := tx.CreateBucketIfNotExists(bucketMeta)
	if err != nil {
		return err
	}
	put := func(key []byte, v uint64) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v)
		return meta.Put(key, buf)
	}
	if err := put(keySequence, seq); err != nil {
		return err
	}
	if err := put(keyTimestamp, uint64(timestamp)); err != nil {
		return err
	}
	return put(keyCount, count)
}
