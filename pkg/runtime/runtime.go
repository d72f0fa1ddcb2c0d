// Package runtime provides the execution environment for native programs.
//
// The runtime models the primitives the on-chain programs are written
// against: accounts holding lamports and opaque data with a declared owner,
// instructions carrying an ordered account list with signer/writable flags,
// and atomic execution (an instruction either fully commits or leaves no
// trace). Programs are registered by program ID and invoked through an
// InvokeContext, which also supports depth-limited cross-program invocation.
package runtime

import (
	"crypto/sha256"
	"errors"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
)

// Execution limits.
const (
	// MaxInvokeDepth is the maximum cross-program invocation nesting depth.
	MaxInvokeDepth = 4

	// MaxInstructionAccounts is the maximum number of accounts per instruction.
	MaxInstructionAccounts = 64

	// MaxAccountDataSize is the maximum account data size.
	MaxAccountDataSize = accounts.MaxAccountDataSize
)

// Rent model constants. An account is rent-exempt when it holds at least
// RentMinimum(dataLen) lamports.
const (
	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	rentExemptionYears     = 2
)

// Runtime errors.
var (
	// ErrUnknownProgram is returned when no program is registered for an ID.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrTooManyAccounts is returned when an instruction references too many accounts.
	ErrTooManyAccounts = errors.New("too many instruction accounts")

	// ErrInvokeDepthExceeded is returned when CPI nesting exceeds MaxInvokeDepth.
	ErrInvokeDepthExceeded = errors.New("invoke depth exceeded")

	// ErrAccountIndexOutOfRange is returned for an out-of-range account index.
	ErrAccountIndexOutOfRange = errors.New("account index out of range")

	// ErrAccountNotInInvocation is returned when a CPI references an account
	// that was not passed to the outer instruction.
	ErrAccountNotInInvocation = errors.New("account not present in invocation")

	// ErrPrivilegeEscalation is returned when a CPI requests privileges the
	// caller does not hold.
	ErrPrivilegeEscalation = errors.New("privilege escalation in cross-program invocation")

	// ErrLamportImbalance is returned when execution creates or destroys lamports.
	ErrLamportImbalance = errors.New("instruction changed total lamports")

	// ErrReadonlyAccountModified is returned when a non-writable account changed.
	ErrReadonlyAccountModified = errors.New("read-only account modified")

	// ErrExternalLamportSpend is returned when an account is debited without
	// its owner program taking part in the invocation.
	ErrExternalLamportSpend = errors.New("lamports debited from account not owned by an invoked program")

	// ErrExternalDataModified is returned when account data is changed without
	// its owner program taking part in the invocation.
	ErrExternalDataModified = errors.New("account data modified by non-owner")

	// ErrExternalOwnerChange is returned when an account's owner is reassigned
	// without the previous owner program taking part in the invocation.
	ErrExternalOwnerChange = errors.New("account owner changed by non-owner")
)

// AccountMeta describes one account slot of an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one invocation request: the target program, the ordered
// account list, and the opaque instruction data.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo is an account as seen by an executing program: the shared
// mutable account state plus the per-invocation signer/writable flags.
// The Account pointer is shared between nested invocation frames so that
// mutations made by an inner program are visible to the caller.
type AccountInfo struct {
	Key        types.Pubkey
	Account    *accounts.Account
	IsSigner   bool
	IsWritable bool
}

// InvokeContext is the interface programs execute against.
type InvokeContext interface {
	// ProgramID returns the ID of the executing program.
	ProgramID() types.Pubkey

	// Account returns the account at the given instruction slot.
	Account(index int) (*AccountInfo, error)

	// AccountsLen returns the number of accounts in the instruction.
	AccountsLen() int

	// Now returns the current unix timestamp in seconds.
	Now() int64

	// RentMinimum returns the rent-exempt minimum for the given data size.
	RentMinimum(dataLen uint64) uint64

	// Invoke executes a cross-program invocation. Accounts referenced by the
	// inner instruction must already be present in the outer invocation.
	// Signer seed groups grant signer status to the program-derived
	// addresses they produce for the calling program.
	Invoke(ix Instruction, signerSeeds [][][]byte) error

	// Log records a message into the execution log.
	Log(msg string)
}

// Program is a native program processor.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// RentMinimum returns the rent-exempt minimum balance for dataLen bytes.
func RentMinimum(dataLen uint64) uint64 {
	return (accountStorageOverhead + dataLen) * lamportsPerByteYear * rentExemptionYears
}

// StaticProgramID derives a fixed program ID from a name. Used for native
// program identities, which are conventional constants rather than keys.
func StaticProgramID(name string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(name)))
}
