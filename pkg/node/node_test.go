package node

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/raffle"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/system"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "node_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	config := DefaultConfig(tmpDir)
	config.InMemory = true
	config.SnapshotInterval = 0

	n, err := New(config)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func testKeypair(t *testing.T, n byte) *types.Keypair {
	t.Helper()
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("keypair from seed: %v", err)
	}
	return kp
}

func fund(t *testing.T, n *Node, key types.Pubkey, lamports uint64) {
	t.Helper()
	if err := n.DB().SetAccount(key, &accounts.Account{Lamports: lamports}); err != nil {
		t.Fatalf("fund %s: %v", key, err)
	}
}

func TestSubmitVerifiesSignatures(t *testing.T) {
	n := newTestNode(t)

	from := testKeypair(t, 1)
	to := testKeypair(t, 2)
	fund(t, n, from.Pubkey, 1000)

	ix := system.NewTransferInstruction(from.Pubkey, to.Pubkey, 300)
	message := ix.Serialize()

	// No signatures.
	if _, err := n.Submit(message, nil); !errors.Is(err, ErrBadSignatureCount) {
		t.Fatalf("err = %v, want %v", err, ErrBadSignatureCount)
	}

	// Signature by the wrong key.
	wrong := to.Sign(message)
	if _, err := n.Submit(message, []types.Signature{wrong}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want %v", err, ErrBadSignature)
	}

	// Valid signature.
	entry, err := n.Submit(message, []types.Signature{from.Sign(message)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.Seq != 1 {
		t.Fatalf("seq = %d, want 1", entry.Seq)
	}

	acc, err := n.DB().GetAccount(to.Pubkey)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Lamports != 300 {
		t.Fatalf("recipient balance = %d, want 300", acc.Lamports)
	}
}

func TestSubmitRejectsReplay(t *testing.T) {
	n := newTestNode(t)

	from := testKeypair(t, 1)
	to := testKeypair(t, 2)
	fund(t, n, from.Pubkey, 1000)

	ix := system.NewTransferInstruction(from.Pubkey, to.Pubkey, 300)
	if _, err := n.SubmitSigned(ix, from); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Resubmitting the identical message must not move money again.
	if _, err := n.SubmitSigned(ix, from); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("err = %v, want %v", err, ErrDuplicateMessage)
	}

	acc, _ := n.DB().GetAccount(to.Pubkey)
	if acc.Lamports != 300 {
		t.Fatalf("recipient balance = %d, want 300", acc.Lamports)
	}
}

func TestSubmitAdvancesSlotAndJournals(t *testing.T) {
	n := newTestNode(t)

	from := testKeypair(t, 1)
	fund(t, n, from.Pubkey, 10_000)

	for i := uint64(1); i <= 3; i++ {
		ix := system.NewTransferInstruction(from.Pubkey, types.Pubkey{byte(i + 10)}, 100*i)
		entry, err := n.SubmitSigned(ix, from)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if entry.Seq != i {
			t.Fatalf("seq = %d, want %d", entry.Seq, i)
		}
		if n.Slot() != i {
			t.Fatalf("slot = %d, want %d", n.Slot(), i)
		}
	}

	entries, err := n.Journal().EntriesForAccount(from.Pubkey, 0)
	if err != nil {
		t.Fatalf("entries for account: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journal entries = %d, want 3", len(entries))
	}
}

// TestRaffleFlowThroughNode drives the full raffle protocol through signed
// message submission, the same path the RPC layer uses.
func TestRaffleFlowThroughNode(t *testing.T) {
	n := newTestNode(t)

	now := int64(1_000_000)
	n.SetClock(func() int64 { return now })

	admin := testKeypair(t, 1)
	treasury := testKeypair(t, 2)
	fund(t, n, admin.Pubkey, 100_000_000_000)

	if _, err := n.SubmitSigned(raffle.NewInitializeConfigInstruction(
		admin.Pubkey, treasury.Pubkey, 100_000_000, 500), admin); err != nil {
		t.Fatalf("initialize config: %v", err)
	}

	raffleKp := testKeypair(t, 3)
	var title [raffle.TitleSize]byte
	copy(title[:], "node flow raffle")
	if _, err := n.SubmitSigned(raffle.NewInitializeRaffleInstruction(
		admin.Pubkey, raffleKp.Pubkey, title, 600), admin, raffleKp); err != nil {
		t.Fatalf("initialize raffle: %v", err)
	}

	buyer := testKeypair(t, 4)
	record := testKeypair(t, 5)
	fund(t, n, buyer.Pubkey, 10_000_000_000)
	if _, err := n.SubmitSigned(raffle.NewPurchaseTicketsInstruction(
		buyer.Pubkey, raffleKp.Pubkey, record.Pubkey, treasury.Pubkey, 2), buyer, record); err != nil {
		t.Fatalf("purchase tickets: %v", err)
	}

	acc, err := n.DB().GetAccount(raffleKp.Pubkey)
	if err != nil {
		t.Fatalf("get raffle account: %v", err)
	}
	state, err := raffle.DecodeRaffle(acc.Data)
	if err != nil {
		t.Fatalf("decode raffle: %v", err)
	}
	if state.TicketsSold != 2 {
		t.Fatalf("tickets sold = %d, want 2", state.TicketsSold)
	}

	// The purchase must be journaled against the raffle account.
	entries, err := n.Journal().EntriesForAccount(raffleKp.Pubkey, 0)
	if err != nil {
		t.Fatalf("entries for raffle: %v", err)
	}
	if len(entries) != 2 { // creation + purchase
		t.Fatalf("raffle entries = %d, want 2", len(entries))
	}
}
