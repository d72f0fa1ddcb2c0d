// Package system implements the system program.
//
// The system program is the owner of all fresh accounts and is responsible
// for creating accounts, transferring lamports, and assigning account
// ownership to other programs.
package system

import (
	"encoding/binary"
	"errors"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/runtime"
)

// ProgramID is the system program address (all zeros).
var ProgramID = types.Pubkey{}

// Instruction discriminants (4-byte little-endian).
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
)

// System program errors.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrLamportOverflow          = errors.New("lamport overflow")
	ErrSourceHoldsData          = errors.New("debited account carries data")
)

// Processor executes system program instructions.
type Processor struct{}

// NewProcessor creates a new system program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes one system program instruction.
func (p *Processor) Process(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	default:
		return ErrInvalidInstructionData
	}
}

// processCreateAccount creates a new account funded by the payer.
// Operands: lamports (8) + space (8) + owner (32). Accounts: [funder, new].
func (p *Processor) processCreateAccount(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 48 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	if space > runtime.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	// The funder is debited, so it is held to the same rule as a transfer
	// source: system-owned and data-free.
	if funder.Account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(funder.Account.Data) > 0 {
		return ErrSourceHoldsData
	}
	if funder.Account.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if newAccount.Account.Owner != ProgramID ||
		len(newAccount.Account.Data) > 0 ||
		newAccount.Account.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}
	if lamports < ctx.RentMinimum(space) {
		return ErrAccountNotRentExempt
	}

	funder.Account.Lamports -= lamports
	newAccount.Account.Lamports = lamports
	newAccount.Account.Data = make([]byte, space)
	newAccount.Account.Owner = owner

	return nil
}

// processAssign changes the owner of a system-owned account.
// Operands: owner (32). Accounts: [account].
func (p *Processor) processAssign(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 32 {
		return ErrInvalidInstructionData
	}
	var newOwner types.Pubkey
	copy(newOwner[:], data[0:32])

	account, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Account.Owner = newOwner
	return nil
}

// processTransfer moves lamports between accounts.
// Operands: lamports (8). Accounts: [from, to].
func (p *Processor) processTransfer(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])

	from, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	// Only system-owned, data-free accounts can be debited here. Accounts
	// assigned to a program are that program's escrow: their keypair alone
	// must not be able to move the balance.
	if from.Account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(from.Account.Data) > 0 {
		return ErrSourceHoldsData
	}
	if from.Account.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Account.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Account.Lamports -= lamports
	to.Account.Lamports += lamports
	return nil
}

// NewCreateAccountInstruction builds a CreateAccount instruction.
func NewCreateAccountInstruction(funder, newAccount, owner types.Pubkey, lamports, space uint64) runtime.Instruction {
	data := make([]byte, 4+48)
	binary.LittleEndian.PutUint32(data[0:4], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	binary.LittleEndian.PutUint64(data[12:20], space)
	copy(data[20:52], owner[:])

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: newAccount, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewAssignInstruction builds an Assign instruction.
func NewAssignInstruction(account, owner types.Pubkey) runtime.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAssign)
	copy(data[4:36], owner[:])

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewTransferInstruction builds a Transfer instruction.
func NewTransferInstruction(from, to types.Pubkey, lamports uint64) runtime.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}
