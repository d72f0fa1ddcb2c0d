package runtime

import (
	"bytes"
	"fmt"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
)

// Engine executes instructions against an accounts database.
//
// Execution is atomic: referenced accounts are loaded and cloned, the owning
// program runs against the clones, and only if it succeeds are the clones
// committed back in one batch. A failing instruction leaves the database
// untouched. Callers are responsible for serializing Execute calls that
// touch overlapping accounts (the node does this with a single submit lock).
type Engine struct {
	db       accounts.DB
	programs map[types.Pubkey]Program
}

// Result describes a committed execution.
type Result struct {
	// Logs are the messages recorded by the executing programs.
	Logs []string

	// Modified lists the accounts written by the instruction.
	Modified []types.Pubkey
}

// NewEngine creates an engine backed by the given accounts database.
func NewEngine(db accounts.DB) *Engine {
	return &Engine{
		db:       db,
		programs: make(map[types.Pubkey]Program),
	}
}

// Register adds a native program under the given program ID.
func (e *Engine) Register(programID types.Pubkey, p Program) {
	e.programs[programID] = p
}

// DB returns the underlying accounts database.
func (e *Engine) DB() accounts.DB {
	return e.db
}

// Execute runs one instruction at the given unix timestamp.
func (e *Engine) Execute(ix Instruction, now int64) (*Result, error) {
	program, ok := e.programs[ix.ProgramID]
	if !ok {
		return nil, ErrUnknownProgram
	}
	if len(ix.Accounts) > MaxInstructionAccounts {
		return nil, ErrTooManyAccounts
	}

	// Load and clone every referenced account. Duplicate account references
	// alias the same clone so in-invocation mutations stay consistent.
	infos := make([]*AccountInfo, len(ix.Accounts))
	byKey := make(map[types.Pubkey]*AccountInfo, len(ix.Accounts))
	preState := make(map[types.Pubkey]*accounts.Account, len(ix.Accounts))

	for i, meta := range ix.Accounts {
		if existing, ok := byKey[meta.Pubkey]; ok {
			info := &AccountInfo{
				Key:        meta.Pubkey,
				Account:    existing.Account,
				IsSigner:   meta.IsSigner || existing.IsSigner,
				IsWritable: meta.IsWritable || existing.IsWritable,
			}
			infos[i] = info
			existing.IsSigner = info.IsSigner
			existing.IsWritable = info.IsWritable
			continue
		}

		account, err := e.db.GetAccount(meta.Pubkey)
		if err == accounts.ErrAccountNotFound {
			// Fresh accounts materialize as zero-balance system accounts.
			account = &accounts.Account{}
		} else if err != nil {
			return nil, fmt.Errorf("load account %s: %w", meta.Pubkey, err)
		}

		info := &AccountInfo{
			Key:        meta.Pubkey,
			Account:    account.Clone(),
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
		infos[i] = info
		byKey[meta.Pubkey] = info
		preState[meta.Pubkey] = account
	}

	ctx := &invokeContext{
		engine:    e,
		programID: ix.ProgramID,
		accounts:  infos,
		byKey:     byKey,
		invoked:   map[types.Pubkey]bool{ix.ProgramID: true},
		now:       now,
		depth:     1,
	}

	if err := program.Process(ctx, ix.Data); err != nil {
		return nil, err
	}

	if err := verifyInvariants(byKey, preState, ctx.invoked); err != nil {
		return nil, err
	}

	// Commit writable accounts only.
	result := &Result{Logs: ctx.logs}
	for key, info := range byKey {
		if !info.IsWritable {
			continue
		}
		if err := e.db.SetAccount(key, info.Account); err != nil {
			return nil, fmt.Errorf("commit account %s: %w", key, err)
		}
		result.Modified = append(result.Modified, key)
	}
	return result, nil
}

// verifyInvariants enforces the post-execution rules the runtime guarantees
// regardless of program behavior: lamports are conserved across the
// instruction, accounts not marked writable come out untouched, and every
// debit, data write, or owner change is backed by the account's pre-execution
// owner program having run in the invocation. The last rule is what makes
// program ownership an escrow: holding an account's keypair is not enough to
// move its lamports once a program owns it.
func verifyInvariants(byKey map[types.Pubkey]*AccountInfo, preState map[types.Pubkey]*accounts.Account, invoked map[types.Pubkey]bool) error {
	var before, after uint64
	for key, info := range byKey {
		pre := preState[key]
		before += pre.Lamports
		after += info.Account.Lamports

		if !info.IsWritable {
			if info.Account.Lamports != pre.Lamports ||
				info.Account.Owner != pre.Owner ||
				!bytes.Equal(info.Account.Data, pre.Data) {
				return ErrReadonlyAccountModified
			}
			continue
		}

		if !invoked[pre.Owner] {
			if info.Account.Lamports < pre.Lamports {
				return ErrExternalLamportSpend
			}
			if info.Account.Owner != pre.Owner {
				return ErrExternalOwnerChange
			}
			if !bytes.Equal(info.Account.Data, pre.Data) {
				return ErrExternalDataModified
			}
		}
	}
	if before != after {
		return ErrLamportImbalance
	}
	return nil
}

// invokeContext implements InvokeContext for one invocation frame.
type invokeContext struct {
	engine    *Engine
	programID types.Pubkey
	accounts  []*AccountInfo
	byKey     map[types.Pubkey]*AccountInfo
	invoked   map[types.Pubkey]bool // every program that ran in this execution
	now       int64
	depth     int
	logs      []string
	parent    *invokeContext
}

func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

func (c *invokeContext) Account(index int) (*AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, ErrAccountIndexOutOfRange
	}
	return c.accounts[index], nil
}

func (c *invokeContext) AccountsLen() int {
	return len(c.accounts)
}

func (c *invokeContext) Now() int64 {
	return c.now
}

func (c *invokeContext) RentMinimum(dataLen uint64) uint64 {
	return RentMinimum(dataLen)
}

func (c *invokeContext) Log(msg string) {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	root.logs = append(root.logs, msg)
}

// Invoke executes a cross-program invocation from this frame.
func (c *invokeContext) Invoke(ix Instruction, signerSeeds [][][]byte) error {
	if c.depth >= MaxInvokeDepth {
		return ErrInvokeDepthExceeded
	}
	program, ok := c.engine.programs[ix.ProgramID]
	if !ok {
		return ErrUnknownProgram
	}

	// Addresses derived from the caller's signer seeds sign the inner
	// instruction even though no private key exists for them.
	derivedSigners := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := CreateProgramAddress(seeds, c.programID)
		if err != nil {
			return fmt.Errorf("derive signer: %w", err)
		}
		derivedSigners[pda] = true
	}

	childAccounts := make([]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		outer, ok := c.byKey[meta.Pubkey]
		if !ok {
			return ErrAccountNotInInvocation
		}

		isSigner := meta.IsSigner
		if isSigner && !outer.IsSigner && !derivedSigners[meta.Pubkey] {
			return ErrPrivilegeEscalation
		}
		if meta.IsWritable && !outer.IsWritable {
			return ErrPrivilegeEscalation
		}

		childAccounts[i] = &AccountInfo{
			Key:        meta.Pubkey,
			Account:    outer.Account,
			IsSigner:   isSigner || derivedSigners[meta.Pubkey],
			IsWritable: meta.IsWritable,
		}
	}

	c.invoked[ix.ProgramID] = true
	child := &invokeContext{
		engine:    c.engine,
		programID: ix.ProgramID,
		accounts:  childAccounts,
		byKey:     c.byKey,
		invoked:   c.invoked,
		now:       c.now,
		depth:     c.depth + 1,
		parent:    c,
	}
	return program.Process(child, ix.Data)
}
