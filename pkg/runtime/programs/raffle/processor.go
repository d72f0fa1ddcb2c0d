// Package raffle implements the raffle program.
//
// One config singleton holds the admin, the fee treasury, and the defaults
// copied into each raffle at creation. Raffles sell fixed-price tickets until
// their deadline; each purchase writes an immutable record holding a
// contiguous run of ticket indices. After the deadline the raffle authority
// requests randomness from the vrf program, and once the oracle fulfills it,
// completes the raffle: the winning index is reduced from the vrf result,
// the presented ticket record is checked to contain it, and the pot above
// the raffle account's rent floor pays out to the winner in the same
// instruction.
package raffle

import (
	"encoding/binary"
	"fmt"

	"github.com/solcino/raffle-engine/pkg/runtime"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/system"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// Processor executes raffle program instructions.
type Processor struct{}

// NewProcessor creates a new raffle program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes one raffle program instruction.
func (p *Processor) Process(ctx runtime.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return ErrInvalidInstruction
	}

	switch data[0] {
	case OpInitializeConfig:
		return p.processInitializeConfig(ctx, data[1:])
	case OpInitializeRaffle:
		return p.processInitializeRaffle(ctx, data[1:])
	case OpPurchaseTickets:
		return p.processPurchaseTickets(ctx, data[1:])
	case OpCompleteRaffleLegacy:
		// The pre-vrf completion path let the authority pick the winner.
		// It is rejected unconditionally.
		return ErrInvalidInstruction
	case OpUpdateAdmin:
		return p.processUpdateAdmin(ctx)
	case OpUpdateFeeAddress:
		return p.processUpdateFeeAddress(ctx)
	case OpUpdateTicketPrice:
		return p.processUpdateTicketPrice(ctx, data[1:])
	case OpUpdateFeePercentage:
		return p.processUpdateFeePercentage(ctx, data[1:])
	case OpRequestRandomness:
		return p.processRequestRandomness(ctx)
	case OpCompleteRaffleWithVrf:
		return p.processCompleteRaffleWithVrf(ctx)
	default:
		return ErrInvalidInstruction
	}
}

// processInitializeConfig creates and initializes the config singleton.
// Operands: ticket_price (8) + fee_bps (2).
// Accounts: [admin signer writable, config writable, treasury, system].
func (p *Processor) processInitializeConfig(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != 10 {
		return ErrInvalidInstruction
	}
	ticketPrice := binary.LittleEndian.Uint64(data[0:8])
	feeBps := binary.LittleEndian.Uint16(data[8:10])
	if feeBps > MaxFeeBps {
		return ErrInvalidInstruction
	}

	admin, err := ctx.Account(0)
	if err != nil {
		return ErrInvalidAccount
	}
	configAcc, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}
	treasury, err := ctx.Account(2)
	if err != nil {
		return ErrInvalidAccount
	}

	if !admin.IsSigner {
		return ErrUnauthorized
	}

	expected, bump := ConfigAddress()
	if configAcc.Key != expected {
		return ErrInvalidAccount
	}

	// An existing config account means someone already claimed the
	// singleton. The PDA can only be created through this path.
	if configAcc.Account.Owner == ctx.ProgramID() {
		return ErrAlreadyInitialized
	}

	createIx := system.NewCreateAccountInstruction(
		admin.Key, configAcc.Key, ctx.ProgramID(),
		ctx.RentMinimum(ConfigSize), ConfigSize,
	)
	seeds := [][]byte{[]byte(ConfigSeed), {bump}}
	if err := ctx.Invoke(createIx, [][][]byte{seeds}); err != nil {
		return fmt.Errorf("create config account: %w", err)
	}

	config := &Config{
		Initialized: true,
		Admin:       admin.Key,
		Treasury:    treasury.Key,
		TicketPrice: ticketPrice,
		FeeBps:      feeBps,
	}

	ctx.Log("raffle: config initialized, admin " + admin.Key.String())
	return config.Encode(configAcc.Account.Data)
}

// processInitializeRaffle creates a raffle from the config defaults.
// Operands: title (32) + duration seconds (8).
// Accounts: [authority signer writable, raffle signer writable, config, system].
func (p *Processor) processInitializeRaffle(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != TitleSize+8 {
		return ErrInvalidInstruction
	}
	duration := binary.LittleEndian.Uint64(data[TitleSize : TitleSize+8])
	if duration == 0 {
		return ErrInvalidDuration
	}

	authority, err := ctx.Account(0)
	if err != nil {
		return ErrInvalidAccount
	}
	raffleAcc, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}
	configAcc, err := ctx.Account(2)
	if err != nil {
		return ErrInvalidAccount
	}

	if !authority.IsSigner {
		return ErrUnauthorized
	}

	config, err := p.loadConfig(ctx, configAcc)
	if err != nil {
		return err
	}

	now := ctx.Now()
	endTime := now + int64(duration)
	if endTime <= now {
		return ErrInvalidDuration
	}

	createIx := system.NewCreateAccountInstruction(
		authority.Key, raffleAcc.Key, ctx.ProgramID(),
		ctx.RentMinimum(RaffleSize), RaffleSize,
	)
	if err := ctx.Invoke(createIx, nil); err != nil {
		return fmt.Errorf("create raffle account: %w", err)
	}

	raffle := &Raffle{
		Initialized: true,
		Authority:   authority.Key,
		EndTime:     endTime,
		TicketPrice: config.TicketPrice,
		Status:      StatusActive,
		FeeBps:      config.FeeBps,
		Treasury:    config.Treasury,
	}
	copy(raffle.Title[:], data[0:TitleSize])

	ctx.Log("raffle: created " + raffleAcc.Key.String())
	return raffle.Encode(raffleAcc.Account.Data)
}

// processPurchaseTickets sells a contiguous run of tickets.
// Operands: ticket_count (8).
// Accounts: [purchaser signer writable, raffle writable,
// ticket record signer writable, treasury writable, system].
//
// The fee share of the payment goes to the treasury immediately; the
// remainder accumulates in the raffle account as the pot.
func (p *Processor) processPurchaseTickets(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstruction
	}
	count := binary.LittleEndian.Uint64(data[0:8])
	if count == 0 {
		return ErrInvalidTicketCount
	}

	purchaser, err := ctx.Account(0)
	if err != nil {
		return ErrInvalidAccount
	}
	raffleAcc, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}
	recordAcc, err := ctx.Account(2)
	if err != nil {
		return ErrInvalidAccount
	}
	treasury, err := ctx.Account(3)
	if err != nil {
		return ErrInvalidAccount
	}

	if !purchaser.IsSigner {
		return ErrUnauthorized
	}

	raffle, err := p.loadRaffle(ctx, raffleAcc)
	if err != nil {
		return err
	}
	if raffle.Status != StatusActive {
		return ErrRaffleNotActive
	}
	if ctx.Now() >= raffle.EndTime {
		return ErrRaffleEnded
	}
	if raffle.VrfInProgress {
		return ErrRaffleNotActive
	}
	if treasury.Key != raffle.Treasury {
		return ErrInvalidAccount
	}
	if raffle.TicketsSold > ^uint64(0)-count {
		return ErrInvalidTicketCount
	}

	cost, ok := TicketCost(count, raffle.TicketPrice)
	if !ok {
		// A cost that overflows uint64 exceeds any possible balance.
		return ErrInsufficientFunds
	}

	recordRent := ctx.RentMinimum(TicketPurchaseSize)
	if purchaser.Account.Lamports < cost ||
		purchaser.Account.Lamports-cost < recordRent {
		return ErrInsufficientFunds
	}

	fee := CalculateFee(cost, raffle.FeeBps)

	createIx := system.NewCreateAccountInstruction(
		purchaser.Key, recordAcc.Key, ctx.ProgramID(),
		recordRent, TicketPurchaseSize,
	)
	if err := ctx.Invoke(createIx, nil); err != nil {
		return fmt.Errorf("create ticket record: %w", err)
	}

	if fee > 0 {
		feeIx := system.NewTransferInstruction(purchaser.Key, treasury.Key, fee)
		if err := ctx.Invoke(feeIx, nil); err != nil {
			return fmt.Errorf("transfer fee: %w", err)
		}
	}
	if cost-fee > 0 {
		potIx := system.NewTransferInstruction(purchaser.Key, raffleAcc.Key, cost-fee)
		if err := ctx.Invoke(potIx, nil); err != nil {
			return fmt.Errorf("transfer to pot: %w", err)
		}
	}

	record := &TicketPurchase{
		Initialized:  true,
		Raffle:       raffleAcc.Key,
		Purchaser:    purchaser.Key,
		FirstTicket:  raffle.TicketsSold,
		TicketCount:  count,
		PurchaseTime: ctx.Now(),
	}
	if err := record.Encode(recordAcc.Account.Data); err != nil {
		return err
	}

	raffle.TicketsSold += count
	ctx.Log(fmt.Sprintf("raffle: %s bought %d tickets of %s",
		purchaser.Key, count, raffleAcc.Key))
	return raffle.Encode(raffleAcc.Account.Data)
}

// processUpdateAdmin hands the config admin role to a new key.
// Accounts: [admin signer, new admin, config writable].
func (p *Processor) processUpdateAdmin(ctx runtime.InvokeContext) error {
	config, configAcc, err := p.adminGate(ctx, 2)
	if err != nil {
		return err
	}
	newAdmin, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}

	config.Admin = newAdmin.Key
	ctx.Log("raffle: admin updated to " + newAdmin.Key.String())
	return config.Encode(configAcc.Account.Data)
}

// processUpdateFeeAddress points the config treasury at a new key.
// Accounts: [admin signer, new treasury, config writable].
func (p *Processor) processUpdateFeeAddress(ctx runtime.InvokeContext) error {
	config, configAcc, err := p.adminGate(ctx, 2)
	if err != nil {
		return err
	}
	newTreasury, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}

	config.Treasury = newTreasury.Key
	ctx.Log("raffle: treasury updated to " + newTreasury.Key.String())
	return config.Encode(configAcc.Account.Data)
}

// processUpdateTicketPrice changes the default ticket price for new raffles.
// Operands: ticket_price (8). Accounts: [admin signer, config writable].
func (p *Processor) processUpdateTicketPrice(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstruction
	}
	config, configAcc, err := p.adminGate(ctx, 1)
	if err != nil {
		return err
	}

	config.TicketPrice = binary.LittleEndian.Uint64(data[0:8])
	return config.Encode(configAcc.Account.Data)
}

// processUpdateFeePercentage changes the default fee for new raffles.
// Operands: fee_bps (2). Accounts: [admin signer, config writable].
func (p *Processor) processUpdateFeePercentage(ctx runtime.InvokeContext, data []byte) error {
	if len(data) != 2 {
		return ErrInvalidInstruction
	}
	feeBps := binary.LittleEndian.Uint16(data[0:2])
	if feeBps > MaxFeeBps {
		return ErrInvalidInstruction
	}
	config, configAcc, err := p.adminGate(ctx, 1)
	if err != nil {
		return err
	}

	config.FeeBps = feeBps
	return config.Encode(configAcc.Account.Data)
}

// processRequestRandomness starts the completion flow for an ended raffle.
// Accounts: [authority signer, raffle writable, vrf state writable, vrf program].
func (p *Processor) processRequestRandomness(ctx runtime.InvokeContext) error {
	authority, err := ctx.Account(0)
	if err != nil {
		return ErrInvalidAccount
	}
	raffleAcc, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}
	vrfAcc, err := ctx.Account(2)
	if err != nil {
		return ErrInvalidAccount
	}

	if !authority.IsSigner {
		return ErrUnauthorized
	}

	raffle, err := p.loadRaffle(ctx, raffleAcc)
	if err != nil {
		return err
	}
	if raffle.Authority != authority.Key {
		return ErrUnauthorized
	}
	if raffle.Status == StatusComplete {
		return ErrAlreadyComplete
	}
	if ctx.Now() < raffle.EndTime {
		return ErrRaffleNotEnded
	}
	if raffle.VrfInProgress {
		return ErrRandomnessAlreadyRequested
	}
	if raffle.TicketsSold == 0 {
		return ErrNoTicketsSold
	}

	requestIx := vrf.NewRequestInstruction(authority.Key, vrfAcc.Key)
	if err := ctx.Invoke(requestIx, nil); err != nil {
		return fmt.Errorf("vrf request: %w", err)
	}

	raffle.VrfAccount = vrfAcc.Key
	raffle.VrfInProgress = true

	ctx.Log("raffle: randomness requested for " + raffleAcc.Key.String())
	return raffle.Encode(raffleAcc.Account.Data)
}

// processCompleteRaffleWithVrf finalizes a raffle from a fulfilled vrf
// result. Accounts: [authority signer, raffle writable, vrf state,
// winning ticket record, winner wallet writable].
//
// The caller presents the ticket record containing the winning index; the
// program verifies the containment rather than trusting the claim. Payout
// and state transition happen in the same instruction, so either both land
// or neither does.
func (p *Processor) processCompleteRaffleWithVrf(ctx runtime.InvokeContext) error {
	authority, err := ctx.Account(0)
	if err != nil {
		return ErrInvalidAccount
	}
	raffleAcc, err := ctx.Account(1)
	if err != nil {
		return ErrInvalidAccount
	}
	vrfAcc, err := ctx.Account(2)
	if err != nil {
		return ErrInvalidAccount
	}
	recordAcc, err := ctx.Account(3)
	if err != nil {
		return ErrInvalidAccount
	}
	winner, err := ctx.Account(4)
	if err != nil {
		return ErrInvalidAccount
	}

	if !authority.IsSigner {
		return ErrUnauthorized
	}

	raffle, err := p.loadRaffle(ctx, raffleAcc)
	if err != nil {
		return err
	}
	if raffle.Authority != authority.Key {
		return ErrUnauthorized
	}
	if raffle.Status == StatusComplete {
		return ErrAlreadyComplete
	}
	if !raffle.VrfInProgress {
		return ErrVrfResultNotReady
	}
	if vrfAcc.Key != raffle.VrfAccount {
		return ErrVrfAccountMismatch
	}

	if vrfAcc.Account.Owner != vrf.ProgramID {
		return ErrVrfAccountMismatch
	}
	vrfState, err := vrf.DecodeState(vrfAcc.Account.Data)
	if err != nil {
		return ErrMalformedAccount
	}
	if vrfState.Status != vrf.StatusFinalized {
		return ErrVrfResultNotReady
	}

	index, err := RandomIndex(vrfState.Result, raffle.TicketsSold)
	if err != nil {
		return err
	}

	if recordAcc.Account.Owner != ctx.ProgramID() {
		return ErrInvalidWinnerAccount
	}
	record, err := DecodeTicketPurchase(recordAcc.Account.Data)
	if err != nil {
		return ErrMalformedAccount
	}
	if !record.Initialized || record.Raffle != raffleAcc.Key {
		return ErrInvalidWinnerAccount
	}
	if !record.Contains(index) {
		return ErrInvalidWinnerAccount
	}
	if winner.Key != record.Purchaser {
		return ErrInvalidWinnerAccount
	}

	// The raffle account is owned by this program, so the pot above the
	// rent floor moves to the winner by direct lamport adjustment.
	rentFloor := ctx.RentMinimum(RaffleSize)
	if raffleAcc.Account.Lamports < rentFloor {
		return ErrInsufficientFunds
	}
	prize := raffleAcc.Account.Lamports - rentFloor
	raffleAcc.Account.Lamports -= prize
	winner.Account.Lamports += prize

	raffle.Winner = record.Purchaser
	raffle.Status = StatusComplete
	raffle.VrfInProgress = false

	ctx.Log(fmt.Sprintf("raffle: %s complete, ticket %d wins %d lamports for %s",
		raffleAcc.Key, index, prize, record.Purchaser))
	return raffle.Encode(raffleAcc.Account.Data)
}

// loadConfig decodes and validates the config account.
func (p *Processor) loadConfig(ctx runtime.InvokeContext, acc *runtime.AccountInfo) (*Config, error) {
	expected, _ := ConfigAddress()
	if acc.Key != expected {
		return nil, ErrInvalidAccount
	}
	if acc.Account.Owner != ctx.ProgramID() {
		return nil, ErrConfigNotInitialized
	}
	config, err := DecodeConfig(acc.Account.Data)
	if err != nil {
		return nil, err
	}
	if !config.Initialized {
		return nil, ErrConfigNotInitialized
	}
	return config, nil
}

// loadRaffle decodes and validates a raffle account.
func (p *Processor) loadRaffle(ctx runtime.InvokeContext, acc *runtime.AccountInfo) (*Raffle, error) {
	if acc.Account.Owner != ctx.ProgramID() {
		return nil, ErrMalformedAccount
	}
	raffle, err := DecodeRaffle(acc.Account.Data)
	if err != nil {
		return nil, err
	}
	if !raffle.Initialized {
		return nil, ErrMalformedAccount
	}
	return raffle, nil
}

// adminGate validates the admin signature and loads the config, which sits
// at the given account index.
func (p *Processor) adminGate(ctx runtime.InvokeContext, configIndex int) (*Config, *runtime.AccountInfo, error) {
	admin, err := ctx.Account(0)
	if err != nil {
		return nil, nil, ErrInvalidAccount
	}
	configAcc, err := ctx.Account(configIndex)
	if err != nil {
		return nil, nil, ErrInvalidAccount
	}
	if !admin.IsSigner {
		return nil, nil, ErrUnauthorized
	}
	config, err := p.loadConfig(ctx, configAcc)
	if err != nil {
		return nil, nil, err
	}
	if config.Admin != admin.Key {
		return nil, nil, ErrUnauthorized
	}
	return config, configAcc, nil
}
