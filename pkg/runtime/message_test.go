package runtime

import (
	"testing"

	"github.com/solcino/raffle-engine/internal/types"
)

func TestInstructionSerializeRoundTrip(t *testing.T) {
	in := Instruction{
		ProgramID: StaticProgramID("message-test"),
		Accounts: []AccountMeta{
			{Pubkey: types.Pubkey{1}, IsSigner: true, IsWritable: true},
			{Pubkey: types.Pubkey{2}, IsWritable: true},
			{Pubkey: types.Pubkey{3}},
		},
		Data: []byte{9, 8, 7},
	}

	out, err := DeserializeInstruction(in.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if out.ProgramID != in.ProgramID {
		t.Fatal("program id mismatch")
	}
	if len(out.Accounts) != len(in.Accounts) {
		t.Fatalf("account count = %d, want %d", len(out.Accounts), len(in.Accounts))
	}
	for i := range in.Accounts {
		if out.Accounts[i] != in.Accounts[i] {
			t.Fatalf("account %d = %+v, want %+v", i, out.Accounts[i], in.Accounts[i])
		}
	}
	if string(out.Data) != string(in.Data) {
		t.Fatal("data mismatch")
	}
	if out.MessageHash() != in.MessageHash() {
		t.Fatal("hash mismatch after round trip")
	}
}

func TestDeserializeRejectsTruncation(t *testing.T) {
	ix := Instruction{
		ProgramID: StaticProgramID("message-test"),
		Accounts:  []AccountMeta{{Pubkey: types.Pubkey{1}, IsSigner: true}},
		Data:      []byte{1, 2, 3},
	}
	wire := ix.Serialize()

	for _, n := range []int{0, 10, 33, len(wire) - 1} {
		if _, err := DeserializeInstruction(wire[:n]); err != ErrMalformedMessage {
			t.Fatalf("truncated to %d: err = %v, want %v", n, err, ErrMalformedMessage)
		}
	}

	// Trailing garbage is also rejected.
	if _, err := DeserializeInstruction(append(wire, 0)); err != ErrMalformedMessage {
		t.Fatalf("padded: err = %v, want %v", err, ErrMalformedMessage)
	}
}

func TestSignersDeduplicates(t *testing.T) {
	key := types.Pubkey{1}
	other := types.Pubkey{2}
	ix := Instruction{
		Accounts: []AccountMeta{
			{Pubkey: key, IsSigner: true},
			{Pubkey: other},
			{Pubkey: key, IsSigner: true},
			{Pubkey: other, IsSigner: true},
		},
	}
	signers := ix.Signers()
	if len(signers) != 2 {
		t.Fatalf("signers = %d, want 2", len(signers))
	}
	if signers[0] != key || signers[1] != other {
		t.Fatalf("signer order wrong: %v", signers)
	}
}
