package raffle

import "fmt"

// ProgramError is the closed set of errors the raffle program returns.
// Codes are stable and part of the protocol surface; clients match on them.
type ProgramError uint32

// Raffle program error codes.
const (
	ErrInvalidInstruction ProgramError = iota
	ErrMalformedAccount
	ErrAlreadyInitialized
	ErrConfigNotInitialized
	ErrRaffleNotActive
	ErrRaffleEnded
	ErrRaffleNotEnded
	ErrAlreadyComplete
	ErrRandomnessAlreadyRequested
	ErrUnauthorized
	ErrVrfResultNotReady
	ErrVrfAccountMismatch
	ErrInvalidWinnerAccount
	ErrInvalidTicketCount
	ErrInvalidDuration
	ErrNoTicketsSold
	ErrInsufficientFunds
	ErrInvalidAccount
)

var errorNames = map[ProgramError]string{
	ErrInvalidInstruction:         "invalid instruction",
	ErrMalformedAccount:           "malformed account",
	ErrAlreadyInitialized:         "already initialized",
	ErrConfigNotInitialized:       "config not initialized",
	ErrRaffleNotActive:            "raffle not active",
	ErrRaffleEnded:                "raffle has ended",
	ErrRaffleNotEnded:             "raffle has not ended",
	ErrAlreadyComplete:            "raffle already complete",
	ErrRandomnessAlreadyRequested: "randomness already requested",
	ErrUnauthorized:               "unauthorized",
	ErrVrfResultNotReady:          "vrf result not ready",
	ErrVrfAccountMismatch:         "vrf account mismatch",
	ErrInvalidWinnerAccount:       "invalid winner account",
	ErrInvalidTicketCount:         "invalid ticket count",
	ErrInvalidDuration:            "invalid duration",
	ErrNoTicketsSold:              "no tickets sold",
	ErrInsufficientFunds:          "insufficient funds",
	ErrInvalidAccount:             "invalid account",
}

func (e ProgramError) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("raffle: %s (%d)", name, uint32(e))
	}
	return fmt.Sprintf("raffle: unknown error (%d)", uint32(e))
}
