package runtime

import (
	"encoding/binary"
	"errors"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/zeebo/blake3"
)

// ErrMalformedMessage is returned when a serialized instruction message
// cannot be decoded.
var ErrMalformedMessage = errors.New("malformed instruction message")

// Account meta flag bits in the serialized message.
const (
	flagSigner   = 0x01
	flagWritable = 0x02
)

// Serialize encodes the instruction into its canonical wire form. This is
// the byte string signers sign and the ledger hashes:
//
//	program_id (32) |
//	account_count (2, LE) | per account: pubkey (32) + flags (1) |
//	data_len (4, LE) | data
func (ix *Instruction) Serialize() []byte {
	size := types.PubkeySize + 2 + len(ix.Accounts)*(types.PubkeySize+1) + 4 + len(ix.Data)
	buf := make([]byte, 0, size)

	buf = append(buf, ix.ProgramID[:]...)

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(ix.Accounts)))
	buf = append(buf, u16[:]...)

	for _, meta := range ix.Accounts {
		buf = append(buf, meta.Pubkey[:]...)
		var flags byte
		if meta.IsSigner {
			flags |= flagSigner
		}
		if meta.IsWritable {
			flags |= flagWritable
		}
		buf = append(buf, flags)
	}

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(ix.Data)))
	buf = append(buf, u32[:]...)
	buf = append(buf, ix.Data...)

	return buf
}

// DeserializeInstruction decodes an instruction from its canonical wire form.
func DeserializeInstruction(buf []byte) (Instruction, error) {
	var ix Instruction
	if len(buf) < types.PubkeySize+2 {
		return ix, ErrMalformedMessage
	}

	copy(ix.ProgramID[:], buf)
	offset := types.PubkeySize

	count := int(binary.LittleEndian.Uint16(buf[offset:]))
	offset += 2
	if count > MaxInstructionAccounts {
		return ix, ErrMalformedMessage
	}

	ix.Accounts = make([]AccountMeta, count)
	for i := 0; i < count; i++ {
		if len(buf) < offset+types.PubkeySize+1 {
			return ix, ErrMalformedMessage
		}
		copy(ix.Accounts[i].Pubkey[:], buf[offset:])
		offset += types.PubkeySize
		flags := buf[offset]
		offset++
		ix.Accounts[i].IsSigner = flags&flagSigner != 0
		ix.Accounts[i].IsWritable = flags&flagWritable != 0
	}

	if len(buf) < offset+4 {
		return ix, ErrMalformedMessage
	}
	dataLen := binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	if len(buf) != offset+int(dataLen) {
		return ix, ErrMalformedMessage
	}
	ix.Data = make([]byte, dataLen)
	copy(ix.Data, buf[offset:])

	return ix, nil
}

// MessageHash returns the blake3 hash of the canonical message encoding.
// It identifies an invocation in the ledger.
func (ix *Instruction) MessageHash() types.Hash {
	return types.Hash(blake3.Sum256(ix.Serialize()))
}

// Signers returns the distinct pubkeys whose signatures the instruction
// requires, in first-appearance order.
func (ix *Instruction) Signers() []types.Pubkey {
	seen := make(map[types.Pubkey]bool)
	var signers []types.Pubkey
	for _, meta := range ix.Accounts {
		if meta.IsSigner && !seen[meta.Pubkey] {
			seen[meta.Pubkey] = true
			signers = append(signers, meta.Pubkey)
		}
	}
	return signers
}
