package raffle

import (
	"encoding/binary"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/runtime"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/system"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// ProgramID is the raffle program address.
var ProgramID = runtime.StaticProgramID("raffle-program")

// Instruction opcodes. One byte, followed by fixed-width little-endian
// operands. Opcode 3 was the pre-vrf completion path and is permanently
// rejected; the slot is kept so later opcodes keep their numbers.
const (
	OpInitializeConfig byte = iota
	OpInitializeRaffle
	OpPurchaseTickets
	OpCompleteRaffleLegacy
	OpUpdateAdmin
	OpUpdateFeeAddress
	OpUpdateTicketPrice
	OpUpdateFeePercentage
	OpRequestRandomness
	OpCompleteRaffleWithVrf
)

// ConfigSeed is the program-derived address seed of the config singleton.
const ConfigSeed = "config"

// ConfigAddress returns the config singleton address and its bump seed.
func ConfigAddress() (types.Pubkey, uint8) {
	pda, bump, err := runtime.FindProgramAddress([][]byte{[]byte(ConfigSeed)}, ProgramID)
	if err != nil {
		// The search space is 256 bumps; exhaustion cannot happen for a
		// fixed seed and program ID that are known to have a solution.
		panic("raffle: config address derivation failed: " + err.Error())
	}
	return pda, bump
}

// NewInitializeConfigInstruction builds an InitializeConfig instruction.
func NewInitializeConfigInstruction(admin, treasury types.Pubkey, ticketPrice uint64, feeBps uint16) runtime.Instruction {
	config, _ := ConfigAddress()
	data := make([]byte, 1+8+2)
	data[0] = OpInitializeConfig
	binary.LittleEndian.PutUint64(data[1:9], ticketPrice)
	binary.LittleEndian.PutUint16(data[9:11], feeBps)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: admin, IsSigner: true, IsWritable: true},
			{Pubkey: config, IsWritable: true},
			{Pubkey: treasury},
			{Pubkey: system.ProgramID},
		},
		Data: data,
	}
}

// NewInitializeRaffleInstruction builds an InitializeRaffle instruction.
// The raffle account is a fresh keypair that co-signs its own creation.
func NewInitializeRaffleInstruction(authority, raffleAccount types.Pubkey, title [TitleSize]byte, duration uint64) runtime.Instruction {
	config, _ := ConfigAddress()
	data := make([]byte, 1+TitleSize+8)
	data[0] = OpInitializeRaffle
	copy(data[1:33], title[:])
	binary.LittleEndian.PutUint64(data[33:41], duration)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: authority, IsSigner: true, IsWritable: true},
			{Pubkey: raffleAccount, IsSigner: true, IsWritable: true},
			{Pubkey: config},
			{Pubkey: system.ProgramID},
		},
		Data: data,
	}
}

// NewPurchaseTicketsInstruction builds a PurchaseTickets instruction.
// The ticket record is a fresh keypair that co-signs its own creation.
func NewPurchaseTicketsInstruction(purchaser, raffleAccount, ticketRecord, treasury types.Pubkey, count uint64) runtime.Instruction {
	data := make([]byte, 1+8)
	data[0] = OpPurchaseTickets
	binary.LittleEndian.PutUint64(data[1:9], count)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: purchaser, IsSigner: true, IsWritable: true},
			{Pubkey: raffleAccount, IsWritable: true},
			{Pubkey: ticketRecord, IsSigner: true, IsWritable: true},
			{Pubkey: treasury, IsWritable: true},
			{Pubkey: system.ProgramID},
		},
		Data: data,
	}
}

// NewUpdateAdminInstruction builds an UpdateAdmin instruction.
func NewUpdateAdminInstruction(admin, newAdmin types.Pubkey) runtime.Instruction {
	config, _ := ConfigAddress()
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: admin, IsSigner: true},
			{Pubkey: newAdmin},
			{Pubkey: config, IsWritable: true},
		},
		Data: []byte{OpUpdateAdmin},
	}
}

// NewUpdateFeeAddressInstruction builds an UpdateFeeAddress instruction.
func NewUpdateFeeAddressInstruction(admin, newTreasury types.Pubkey) runtime.Instruction {
	config, _ := ConfigAddress()
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: admin, IsSigner: true},
			{Pubkey: newTreasury},
			{Pubkey: config, IsWritable: true},
		},
		Data: []byte{OpUpdateFeeAddress},
	}
}

// NewUpdateTicketPriceInstruction builds an UpdateTicketPrice instruction.
func NewUpdateTicketPriceInstruction(admin types.Pubkey, ticketPrice uint64) runtime.Instruction {
	config, _ := ConfigAddress()
	data := make([]byte, 1+8)
	data[0] = OpUpdateTicketPrice
	binary.LittleEndian.PutUint64(data[1:9], ticketPrice)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: admin, IsSigner: true},
			{Pubkey: config, IsWritable: true},
		},
		Data: data,
	}
}

// NewUpdateFeePercentageInstruction builds an UpdateFeePercentage instruction.
func NewUpdateFeePercentageInstruction(admin types.Pubkey, feeBps uint16) runtime.Instruction {
	config, _ := ConfigAddress()
	data := make([]byte, 1+2)
	data[0] = OpUpdateFeePercentage
	binary.LittleEndian.PutUint16(data[1:3], feeBps)

	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: admin, IsSigner: true},
			{Pubkey: config, IsWritable: true},
		},
		Data: data,
	}
}

// NewRequestRandomnessInstruction builds a RequestRandomness instruction.
// The vrf state account must already be initialized with the raffle
// authority as its request authority.
func NewRequestRandomnessInstruction(authority, raffleAccount, vrfState types.Pubkey) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: authority, IsSigner: true},
			{Pubkey: raffleAccount, IsWritable: true},
			{Pubkey: vrfState, IsWritable: true},
			{Pubkey: vrf.ProgramID},
		},
		Data: []byte{OpRequestRandomness},
	}
}

// NewCompleteRaffleWithVrfInstruction builds a CompleteRaffleWithVrf
// instruction. The ticket record must be the purchase containing the
// winning index, and winnerWallet must be that record's purchaser.
func NewCompleteRaffleWithVrfInstruction(authority, raffleAccount, vrfState, ticketRecord, winnerWallet types.Pubkey) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			{Pubkey: authority, IsSigner: true},
			{Pubkey: raffleAccount, IsWritable: true},
			{Pubkey: vrfState},
			{Pubkey: ticketRecord},
			{Pubkey: winnerWallet, IsWritable: true},
		},
		Data: []byte{OpCompleteRaffleWithVrf},
	}
}
