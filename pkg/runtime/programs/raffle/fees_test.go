package raffle

import (
	"encoding/binary"
	"testing"

	"github.com/solcino/raffle-engine/internal/types"
)

func TestCalculateFee(t *testing.T) {
	cases := []struct {
		amount uint64
		bps    uint16
		want   uint64
	}{
		{0, 500, 0},
		{10_000, 0, 0},
		{10_000, 500, 500},
		{10_000, MaxFeeBps, 10_000},
		{1, 500, 0},         // floors to zero
		{199, 500, 9},       // floor(199*500/10000) = floor(9.95)
		{^uint64(0), 1, ^uint64(0) / 10_000},
		{^uint64(0), MaxFeeBps, ^uint64(0)}, // 100% of max does not overflow
	}
	for _, tc := range cases {
		if got := CalculateFee(tc.amount, tc.bps); got != tc.want {
			t.Errorf("CalculateFee(%d, %d) = %d, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestCalculateFeeNeverExceedsAmount(t *testing.T) {
	amounts := []uint64{1, 3, 9999, 10_001, 1 << 40, ^uint64(0)}
	for _, amount := range amounts {
		for bps := uint16(0); bps <= MaxFeeBps; bps += 997 {
			if fee := CalculateFee(amount, bps); fee > amount {
				t.Fatalf("fee %d exceeds amount %d at %d bps", fee, amount, bps)
			}
		}
	}
}

func TestTicketCost(t *testing.T) {
	if cost, ok := TicketCost(3, 100); !ok || cost != 300 {
		t.Fatalf("TicketCost(3, 100) = %d, %v", cost, ok)
	}
	if _, ok := TicketCost(1<<33, 1<<33); ok {
		t.Fatal("overflowing cost reported as ok")
	}
	if cost, ok := TicketCost(0, ^uint64(0)); !ok || cost != 0 {
		t.Fatalf("TicketCost(0, max) = %d, %v", cost, ok)
	}
}

func TestRandomIndex(t *testing.T) {
	var result types.Hash
	binary.LittleEndian.PutUint64(result[:8], 13)

	idx, err := RandomIndex(result, 5)
	if err != nil {
		t.Fatalf("random index: %v", err)
	}
	if idx != 3 {
		t.Fatalf("index = %d, want 3", idx)
	}

	// Only the first eight bytes matter.
	result[8] = 0xFF
	idx2, err := RandomIndex(result, 5)
	if err != nil {
		t.Fatalf("random index: %v", err)
	}
	if idx2 != idx {
		t.Fatalf("trailing bytes changed index: %d != %d", idx2, idx)
	}

	if _, err := RandomIndex(result, 0); err != ErrNoTicketsSold {
		t.Fatalf("err = %v, want %v", err, ErrNoTicketsSold)
	}
}
