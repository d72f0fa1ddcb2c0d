// Package node wires the raffle engine components into a runnable host:
// the accounts database, the instruction execution engine with its native
// programs, and the append-only ledger journal.
package node

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/ledger"
	"github.com/solcino/raffle-engine/pkg/runtime"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/raffle"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/system"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// Submission errors.
var (
	ErrBadSignatureCount = errors.New("node: signature count does not match required signers")
	ErrBadSignature      = errors.New("node: signature verification failed")
	ErrDuplicateMessage  = errors.New("node: message already processed")
	ErrClosed            = errors.New("node: closed")
)

// Config controls node behavior.
type Config struct {
	// DataDir is the root directory for databases and snapshots.
	DataDir string

	// InMemory keeps account state in memory instead of badger.
	InMemory bool

	// SyncWrites forces an fsync per state change.
	SyncWrites bool

	// SnapshotInterval is the number of committed instructions between
	// automatic snapshots. Zero disables them.
	SnapshotInterval uint64
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		SyncWrites:       true,
		SnapshotInterval: 1024,
	}
}

// Node is a single-process raffle engine host. Submissions are serialized
// under one lock, which together with the engine's clone-and-commit
// execution gives each instruction an isolated, atomic view of state.
type Node struct {
	config  Config
	db      accounts.DB
	journal *ledger.Journal
	engine  *runtime.Engine

	mu     sync.Mutex
	clock  func() int64
	closed bool
}

// New creates and opens a node.
func New(config Config) (*Node, error) {
	var db accounts.DB
	var err error

	if config.InMemory {
		db = accounts.NewMemoryDB()
	} else {
		badgerCfg := accounts.DefaultBadgerDBConfig(filepath.Join(config.DataDir, "accounts"))
		badgerCfg.SyncWrites = config.SyncWrites
		db, err = accounts.NewBadgerDB(badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("open accounts db: %w", err)
		}
	}

	ledgerCfg := ledger.DefaultConfig(filepath.Join(config.DataDir, "ledger.db"))
	ledgerCfg.SyncWrites = config.SyncWrites
	journal, err := ledger.Open(ledgerCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	engine := runtime.NewEngine(db)
	engine.Register(system.ProgramID, system.NewProcessor())
	engine.Register(vrf.ProgramID, vrf.NewProcessor())
	engine.Register(raffle.ProgramID, raffle.NewProcessor())

	return &Node{
		config:  config,
		db:      db,
		journal: journal,
		engine:  engine,
		clock:   func() int64 { return time.Now().Unix() },
	}, nil
}

// DB returns the accounts database.
func (n *Node) DB() accounts.DB {
	return n.db
}

// Journal returns the ledger journal.
func (n *Node) Journal() *ledger.Journal {
	return n.journal
}

// Slot returns the committed instruction sequence number.
func (n *Node) Slot() uint64 {
	return n.db.GetSlot()
}

// SetClock replaces the timestamp source. Intended for tests.
func (n *Node) SetClock(clock func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clock = clock
}

// Submit verifies, executes, and journals one serialized instruction
// message. Signatures must be in the order of the message's distinct
// required signers.
func (n *Node) Submit(message []byte, signatures []types.Signature) (*ledger.Entry, error) {
	ix, err := runtime.DeserializeInstruction(message)
	if err != nil {
		return nil, err
	}

	signers := ix.Signers()
	if len(signatures) != len(signers) {
		return nil, ErrBadSignatureCount
	}
	for i, signer := range signers {
		if !types.Verify(signer, message, signatures[i]) {
			return nil, fmt.Errorf("%w: signer %s", ErrBadSignature, signer)
		}
	}

	return n.execute(ix)
}

// SubmitSigned serializes the instruction, signs it with the given
// keypairs, and submits it. Keypairs must cover the instruction's required
// signers; extras are ignored.
func (n *Node) SubmitSigned(ix runtime.Instruction, keypairs ...*types.Keypair) (*ledger.Entry, error) {
	message := ix.Serialize()

	byPubkey := make(map[types.Pubkey]*types.Keypair, len(keypairs))
	for _, kp := range keypairs {
		byPubkey[kp.Pubkey] = kp
	}

	signers := ix.Signers()
	signatures := make([]types.Signature, len(signers))
	for i, signer := range signers {
		kp, ok := byPubkey[signer]
		if !ok {
			return nil, fmt.Errorf("%w: no keypair for signer %s", ErrBadSignature, signer)
		}
		signatures[i] = kp.Sign(message)
	}
	return n.Submit(message, signatures)
}

// execute runs one verified instruction to completion: engine execution,
// journal append, and slot advance, all under the submit lock.
func (n *Node) execute(ix runtime.Instruction) (*ledger.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	hash := ix.MessageHash()
	if seen, err := n.journal.HasEntry(hash); err != nil {
		return nil, err
	} else if seen {
		return nil, ErrDuplicateMessage
	}

	now := n.clock()
	result, err := n.engine.Execute(ix, now)
	if err != nil {
		return nil, err
	}

	accountKeys := make([]types.Pubkey, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		accountKeys[i] = meta.Pubkey
	}
	entry := &ledger.Entry{
		Time:      now,
		Hash:      hash,
		ProgramID: ix.ProgramID,
		Accounts:  accountKeys,
		Data:      ix.Data,
		Logs:      result.Logs,
		Modified:  result.Modified,
	}
	if err := n.journal.Append(entry); err != nil {
		// State committed but the journal write failed; surface loudly
		// so the operator can reconcile.
		return nil, fmt.Errorf("journal append after commit: %w", err)
	}

	if err := n.db.SetSlot(entry.Seq); err != nil {
		return nil, err
	}
	if err := n.db.Commit(); err != nil {
		return nil, err
	}

	n.maybeSnapshot(entry.Seq)
	return entry, nil
}

// maybeSnapshot writes a periodic accounts snapshot.
func (n *Node) maybeSnapshot(seq uint64) {
	if n.config.InMemory || n.config.SnapshotInterval == 0 || seq%n.config.SnapshotInterval != 0 {
		return
	}
	path := filepath.Join(n.config.DataDir, "snapshots", fmt.Sprintf("slot-%d.snapshot", seq))
	if err := accounts.CreateSnapshot(n.db, path); err != nil {
		log.Printf("node: snapshot at slot %d failed: %v", seq, err)
		return
	}
	log.Printf("node: wrote snapshot at slot %d", seq)
}

// Close shuts the node down.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.closed = true

	var firstErr error
	if err := n.journal.Close(); err != nil && err != ledger.ErrClosed {
		firstErr = err
	}
	if err := n.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
