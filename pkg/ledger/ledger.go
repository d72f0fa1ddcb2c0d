// Package ledger implements the append-only instruction journal.
//
// Every committed instruction becomes an Entry: the canonical message hash,
// the executing program, the touched accounts, the raw instruction data, and
// the execution logs. Entries are keyed by a monotonic sequence number and
// indexed by message hash and by account, so clients can replay the history
// of one raffle without scanning the whole journal.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/solcino/raffle-engine/internal/types"
)

// Bucket names.
var (
	// bucketEntries stores gob-encoded entries keyed by big-endian sequence.
	bucketEntries = []byte("entries")

	// bucketByHash maps a message hash to its sequence number.
	bucketByHash = []byte("by_hash")

	// bucketByAccount indexes sequence numbers by touched account.
	bucketByAccount = []byte("by_account")

	// bucketMetadata stores journal metadata.
	bucketMetadata = []byte("metadata")
)

var keyLastSeq = []byte("last_seq")

// Journal errors.
var (
	ErrNotFound       = errors.New("ledger: entry not found")
	ErrClosed         = errors.New("ledger: journal closed")
	ErrDuplicateEntry = errors.New("ledger: duplicate message hash")
)

// Entry is one committed instruction.
type Entry struct {
	// Seq is the journal sequence number, assigned on append.
	Seq uint64

	// Time is the unix timestamp the instruction executed at.
	Time int64

	// Hash is the canonical message hash of the instruction.
	Hash types.Hash

	// ProgramID is the program the instruction targeted.
	ProgramID types.Pubkey

	// Accounts are the accounts the instruction referenced, in order.
	Accounts []types.Pubkey

	// Data is the raw instruction data.
	Data []byte

	// Logs are the messages emitted during execution.
	Logs []string

	// Modified lists the accounts the instruction wrote.
	Modified []types.Pubkey
}

// Config controls journal behavior.
type Config struct {
	// Path is the bbolt database file path.
	Path string

	// SyncWrites forces an fsync per append. The journal is the audit
	// record of money movement; it defaults to on.
	SyncWrites bool

	// Timeout bounds how long opening waits for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		Timeout:    5 * time.Second,
	}
}

// Journal is a bbolt-backed instruction journal.
type Journal struct {
	db *bolt.DB

	mu      sync.RWMutex
	lastSeq uint64
	closed  bool
}

// Open opens or creates a journal at the configured path.
func Open(config Config) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: config.Timeout,
		NoSync:  !config.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	if err := j.loadLastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// initBuckets creates all required buckets.
func (j *Journal) initBuckets() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEntries,
			bucketByHash,
			bucketByAccount,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (j *Journal) loadLastSeq() error {
	return j.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketMetadata).Get(keyLastSeq); len(data) == 8 {
			j.lastSeq = binary.BigEndian.Uint64(data)
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func accountSeqKey(pubkey types.Pubkey, seq uint64) []byte {
	key := make([]byte, types.PubkeySize+8)
	copy(key, pubkey[:])
	binary.BigEndian.PutUint64(key[types.PubkeySize:], seq)
	return key
}

// Append assigns the next sequence number to the entry and persists it with
// its indexes in one transaction. The entry's Seq field is set on return.
func (j *Journal) Append(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	seq := j.lastSeq + 1
	entry.Seq = seq

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		byHash := tx.Bucket(bucketByHash)
		if byHash.Get(entry.Hash[:]) != nil {
			return ErrDuplicateEntry
		}

		key := seqKey(seq)
		if err := tx.Bucket(bucketEntries).Put(key, buf.Bytes()); err != nil {
			return err
		}
		if err := byHash.Put(entry.Hash[:], key); err != nil {
			return err
		}

		byAccount := tx.Bucket(bucketByAccount)
		indexed := make(map[types.Pubkey]bool, len(entry.Accounts))
		for _, pubkey := range entry.Accounts {
			if indexed[pubkey] {
				continue
			}
			indexed[pubkey] = true
			if err := byAccount.Put(accountSeqKey(pubkey, seq), nil); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMetadata).Put(keyLastSeq, key)
	})
	if err != nil {
		return err
	}

	j.lastSeq = seq
	return nil
}

// GetEntry returns the entry with the given sequence number.
func (j *Journal) GetEntry(seq uint64) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var entry Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get(seqKey(seq))
		if data == nil {
			return ErrNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntryByHash returns the entry with the given message hash.
func (j *Journal) GetEntryByHash(hash types.Hash) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var entry Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketByHash).Get(hash[:])
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketEntries).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// HasEntry reports whether a message hash is already journaled.
func (j *Journal) HasEntry(hash types.Hash) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false, ErrClosed
	}

	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketByHash).Get(hash[:]) != nil
		return nil
	})
	return found, err
}

// EntriesForAccount returns up to limit entries touching the account, oldest
// first. A limit of zero means no limit.
func (j *Journal) EntriesForAccount(pubkey types.Pubkey, limit int) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		entriesBucket := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketByAccount).Cursor()

		for k, _ := c.Seek(pubkey[:]); k != nil && bytes.HasPrefix(k, pubkey[:]); k, _ = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			data := entriesBucket.Get(k[types.PubkeySize:])
			if data == nil {
				continue
			}
			var entry Entry
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LastSeq returns the sequence number of the newest entry, zero when empty.
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSeq
}

// Close closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.closed = true
	return j.db.Close()
}
