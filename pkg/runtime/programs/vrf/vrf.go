// Package vrf implements the verifiable randomness program.
//
// The program holds request state in a dedicated account. A consumer submits
// a randomness request, which records a seed and marks the account pending.
// The registered oracle later fulfills the request by signing the seed with
// its ed25519 key; the program verifies the signature and derives the final
// 32-byte result from it. Because the signature is deterministic for a given
// key and seed, the oracle cannot grind for favorable outcomes, and anyone
// can re-verify the result offline.
package vrf

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/sha3"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/runtime"
)

// ProgramID is the vrf program address.
var ProgramID = runtime.StaticProgramID("vrf-program")

// Instruction discriminants.
const (
	InstructionInitialize byte = iota
	InstructionRequest
	InstructionFulfill
)

// Request status values.
const (
	StatusIdle byte = iota
	StatusPending
	StatusFinalized
)

// StateSize is the serialized size of State.
// initialized (1) + authority (32) + oracle (32) + seed (32) +
// counter (8) + status (1) + result (32).
const StateSize = 1 + 32 + 32 + 32 + 8 + 1 + 32

// Vrf program errors.
var (
	ErrInvalidInstructionData   = errors.New("vrf: invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("vrf: not enough account keys")
	ErrMissingRequiredSignature = errors.New("vrf: missing required signature")
	ErrAccountNotWritable       = errors.New("vrf: account not writable")
	ErrInvalidAccountOwner      = errors.New("vrf: invalid account owner")
	ErrMalformedState           = errors.New("vrf: malformed state account")
	ErrAlreadyInitialized       = errors.New("vrf: account already initialized")
	ErrNotInitialized           = errors.New("vrf: account not initialized")
	ErrUnauthorized             = errors.New("vrf: unauthorized")
	ErrRequestPending           = errors.New("vrf: request already pending")
	ErrNoPendingRequest         = errors.New("vrf: no pending request")
	ErrInvalidOracleSignature   = errors.New("vrf: invalid oracle signature")
)

// State is the deserialized vrf request account.
type State struct {
	Initialized bool
	Authority   types.Pubkey
	Oracle      types.Pubkey
	Seed        types.Hash
	Counter     uint64
	Status      byte
	Result      types.Hash
}

// DecodeState deserializes a vrf state account.
func DecodeState(data []byte) (*State, error) {
	if len(data) != StateSize {
		return nil, ErrMalformedState
	}
	s := &State{Initialized: data[0] == 1}
	copy(s.Authority[:], data[1:33])
	copy(s.Oracle[:], data[33:65])
	copy(s.Seed[:], data[65:97])
	s.Counter = binary.LittleEndian.Uint64(data[97:105])
	s.Status = data[105]
	copy(s.Result[:], data[106:138])
	return s, nil
}

// Encode serializes the state into buf, which must be StateSize bytes.
func (s *State) Encode(buf []byte) error {
	if len(buf) != StateSize {
		return ErrMalformedState
	}
	buf[0] = 0
	if s.Initialized {
		buf[0] = 1
	}
	copy(buf[1:33], s.Authority[:])
	copy(buf[33:65], s.Oracle[:])
	copy(buf[65:97], s.Seed[:])
	binary.LittleEndian.PutUint64(buf[97:105], s.Counter)
	buf[105] = s.Status
	copy(buf[106:138], s.Result[:])
	return nil
}

// Processor executes vrf program instructions.
type Processor struct{}

// NewProcessor creates a new vrf program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes one vrf program instruction.
func (p *Processor) Process(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return ErrInvalidInstructionData
	}
	switch data[0] {
	case InstructionInitialize:
		return p.processInitialize(ctx, data[1:])
	case InstructionRequest:
		return p.processRequest(ctx)
	case InstructionFulfill:
		return p.processFulfill(ctx, data[1:])
	default:
		return ErrInvalidInstructionData
	}
}

// processInitialize sets up a vrf state account.
// Operands: oracle (32). Accounts: [authority signer, state writable].
func (p *Processor) processInitialize(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return ErrInvalidInstructionData
	}

	authority, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	stateAcc, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !authority.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !stateAcc.IsWritable {
		return ErrAccountNotWritable
	}
	if stateAcc.Account.Owner != ctx.ProgramID() {
		return ErrInvalidAccountOwner
	}
	if len(stateAcc.Account.Data) != StateSize {
		return ErrMalformedState
	}
	if stateAcc.Account.Data[0] == 1 {
		return ErrAlreadyInitialized
	}

	state := &State{
		Initialized: true,
		Authority:   authority.Key,
		Status:      StatusIdle,
	}
	copy(state.Oracle[:], data)
	return state.Encode(stateAcc.Account.Data)
}

// processRequest records a new randomness request and marks the account
// pending. Accounts: [requester signer, state writable]. The seed binds the
// state account, the request counter, and the requester, so every request
// commits the oracle to a distinct message.
func (p *Processor) processRequest(ctx runtime.InvokeContext) error {
	requester, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	stateAcc, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !requester.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !stateAcc.IsWritable {
		return ErrAccountNotWritable
	}
	if stateAcc.Account.Owner != ctx.ProgramID() {
		return ErrInvalidAccountOwner
	}

	state, err := DecodeState(stateAcc.Account.Data)
	if err != nil {
		return err
	}
	if !state.Initialized {
		return ErrNotInitialized
	}
	if state.Status == StatusPending {
		return ErrRequestPending
	}
	if state.Authority != requester.Key {
		return ErrUnauthorized
	}

	state.Counter++
	state.Seed = deriveSeed(stateAcc.Key, state.Counter, requester.Key)
	state.Status = StatusPending
	state.Result = types.Hash{}

	ctx.Log("vrf: request " + stateAcc.Key.String())
	return state.Encode(stateAcc.Account.Data)
}

// processFulfill finalizes a pending request with the oracle's signature.
// Operands: signature (64). Accounts: [oracle signer, state writable].
func (p *Processor) processFulfill(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != types.SignatureSize {
		return ErrInvalidInstructionData
	}

	oracle, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	stateAcc, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !oracle.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !stateAcc.IsWritable {
		return ErrAccountNotWritable
	}
	if stateAcc.Account.Owner != ctx.ProgramID() {
		return ErrInvalidAccountOwner
	}

	state, err := DecodeState(stateAcc.Account.Data)
	if err != nil {
		return err
	}
	if !state.Initialized {
		return ErrNotInitialized
	}
	if state.Status != StatusPending {
		return ErrNoPendingRequest
	}
	if state.Oracle != oracle.Key {
		return ErrUnauthorized
	}

	var sig types.Signature
	copy(sig[:], data)
	if !types.Verify(state.Oracle, state.Seed[:], sig) {
		return ErrInvalidOracleSignature
	}

	state.Result = DeriveResult(sig)
	state.Status = StatusFinalized

	ctx.Log("vrf: fulfilled " + stateAcc.Key.String())
	return state.Encode(stateAcc.Account.Data)
}

// deriveSeed computes the request seed the oracle must sign.
func deriveSeed(state types.Pubkey, counter uint64, requester types.Pubkey) types.Hash {
	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], counter)

	h := sha3.New256()
	h.Write(state[:])
	h.Write(counterBytes[:])
	h.Write(requester[:])

	var seed types.Hash
	h.Sum(seed[:0])
	return seed
}

// DeriveResult maps an oracle signature to the 32-byte randomness output.
// Exported so off-chain verifiers can recompute the result from a signature.
func DeriveResult(sig types.Signature) types.Hash {
	return types.Hash(sha3.Sum256(sig[:]))
}

// NewInitializeInstruction builds an Initialize instruction.
func NewInitializeInstruction(authority, state, oracle types.Pubkey) runtime.Instruction {
	data := make([]byte, 1+32)
	data[0] = InstructionInitialize
	copy(data[1:], oracle[:])

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: authority, IsSigner: true},
			{Pubkey: state, IsWritable: true},
		},
		Data: data,
	}
}

// NewRequestInstruction builds a Request instruction.
func NewRequestInstruction(requester, state types.Pubkey) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: requester, IsSigner: true},
			{Pubkey: state, IsWritable: true},
		},
		Data: []byte{InstructionRequest},
	}
}

// NewFulfillInstruction builds a Fulfill instruction.
func NewFulfillInstruction(oracle, state types.Pubkey, sig types.Signature) runtime.Instruction {
	data := make([]byte, 1+types.SignatureSize)
	data[0] = InstructionFulfill
	copy(data[1:], sig[:])

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: oracle, IsSigner: true},
			{Pubkey: state, IsWritable: true},
		},
		Data: data,
	}
}
