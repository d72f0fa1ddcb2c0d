// Hash computation for accounts state verification.
package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/zeebo/blake3"
)

// Accounts hashing commits to the database contents so that snapshots and
// replicas can be checked for integrity:
//
//  1. Account hash: blake3(lamports || rent_epoch || data || executable ||
//     owner || pubkey) for a single account.
//  2. Accounts hash: binary Merkle root over the hashes of all accounts,
//     sorted by pubkey. Leaves are blake3(0x00 || account_hash), internal
//     nodes blake3(0x01 || left || right); an odd node is paired with itself.
//  3. Delta hash: the same Merkle construction over only the accounts
//     modified by one committed invocation.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	buf := make([]byte, 0, 8+8+len(account.Data)+1+32+32)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	buf = append(buf, u64[:]...)

	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	buf = append(buf, u64[:]...)

	buf = append(buf, account.Data...)

	if account.Executable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, account.Owner[:]...)
	buf = append(buf, pubkey[:]...)

	return types.Hash(blake3.Sum256(buf))
}

// ComputeAccountsHash computes the Merkle root over all accounts in the
// database, sorted by pubkey.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return merkleRoot(hashes), nil
}

// ComputeDeltaHash computes the Merkle root over the accounts modified in a
// committed invocation. Missing accounts (deleted by the invocation) hash as
// an empty account.
func ComputeDeltaHash(db DB, modified []types.Pubkey) (types.Hash, error) {
	keys := make([]types.Pubkey, len(modified))
	copy(keys, modified)
	sort.Slice(keys, func(i, j int) bool {
		for b := 0; b < types.PubkeySize; b++ {
			if keys[i][b] != keys[j][b] {
				return keys[i][b] < keys[j][b]
			}
		}
		return false
	})

	hashes := make([]types.Hash, 0, len(keys))
	for _, key := range keys {
		account, err := db.GetAccount(key)
		if err == ErrAccountNotFound {
			account = &Account{}
		} else if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(key, account))
	}
	return merkleRoot(hashes), nil
}

// merkleRoot folds a sorted list of hashes into a binary Merkle root.
func merkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		leaf := make([]byte, 1+types.HashSize)
		leaf[0] = 0x00
		copy(leaf[1:], h[:])
		level[i] = types.Hash(blake3.Sum256(leaf))
	}

	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			node := make([]byte, 1+2*types.HashSize)
			node[0] = 0x01
			copy(node[1:], level[i][:])
			copy(node[1+types.HashSize:], right[:])
			next = append(next, types.Hash(blake3.Sum256(node)))
		}
		level = next
	}
	return level[0]
}
