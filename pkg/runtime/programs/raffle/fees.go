package raffle

import (
	"encoding/binary"
	"math/bits"

	"github.com/solcino/raffle-engine/internal/types"
)

// CalculateFee returns floor(amount * feeBps / 10000). The product is
// computed in 128 bits so it cannot overflow for any uint64 amount.
// feeBps must not exceed MaxFeeBps.
func CalculateFee(amount uint64, feeBps uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(feeBps))
	q, _ := bits.Div64(hi, lo, MaxFeeBps)
	return q
}

// TicketCost returns count * price, and false when the product does not
// fit in a uint64.
func TicketCost(count, price uint64) (uint64, bool) {
	hi, lo := bits.Mul64(count, price)
	return lo, hi == 0
}

// RandomIndex maps a 32-byte randomness result to a ticket index in
// [0, ticketsSold). The first eight bytes are read as a little-endian
// integer and reduced modulo the ticket count.
func RandomIndex(result types.Hash, ticketsSold uint64) (uint64, error) {
	if ticketsSold == 0 {
		return 0, ErrNoTicketsSold
	}
	return binary.LittleEndian.Uint64(result[:8]) % ticketsSold, nil
}
