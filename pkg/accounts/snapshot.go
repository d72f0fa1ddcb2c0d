// Snapshot creation and loading for the accounts database.
package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/solcino/raffle-engine/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// Snapshot file magic bytes for format validation.
var snapshotMagic = []byte{'R', 'F', 'S', 'N'} // RaFfle SNapshot

// SnapshotHeader contains metadata about a snapshot.
//
// File layout:
//   - Magic (4 bytes): "RFSN"
//   - Version (4 bytes, little-endian)
//   - Slot (8 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - AccountsHash (32 bytes)
//   - Accounts stream (zstd compressed), per account:
//   - Pubkey (32 bytes)
//   - AccountSize (4 bytes, little-endian)
//   - AccountData (variable, serialized account)
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + types.HashSize

// CreateSnapshot writes the full account set to a zstd-compressed snapshot
// file at path.
func CreateSnapshot(db DB, path string) error {
	count, err := db.AccountsCount()
	if err != nil {
		return fmt.Errorf("accounts count: %w", err)
	}
	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return fmt.Errorf("accounts hash: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	header := SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		AccountsHash:  hash,
	}
	if err := writeSnapshotHeader(file, header); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	w := bufio.NewWriter(zw)

	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		if _, err := w.Write(pubkey[:]); err != nil {
			return err
		}
		serialized := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(serialized)))
		if _, err := w.Write(size[:]); err != nil {
			return err
		}
		_, err := w.Write(serialized)
		return err
	})
	if err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return file.Sync()
}

// LoadSnapshot reads a snapshot file into the database. Existing accounts
// are preserved unless overwritten; callers wanting a clean restore should
// load into a fresh database. The accounts hash is verified after loading.
func LoadSnapshot(db DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	header, err := readSnapshotHeader(file)
	if err != nil {
		return err
	}

	zr, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	var loaded uint64
	for {
		var pubkey types.Pubkey
		if _, err := io.ReadFull(r, pubkey[:]); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("read pubkey: %w", err)
		}

		var size [4]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return fmt.Errorf("read account size: %w", err)
		}
		accountSize := binary.LittleEndian.Uint32(size[:])
		if uint64(accountSize) > MaxAccountDataSize+57 {
			return ErrInvalidData
		}

		buf := make([]byte, accountSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		account, err := DeserializeAccount(buf)
		if err != nil {
			return fmt.Errorf("deserialize account %s: %w", pubkey, err)
		}
		if err := db.SetAccount(pubkey, account); err != nil {
			return fmt.Errorf("store account %s: %w", pubkey, err)
		}
		loaded++
	}

	if loaded != header.AccountsCount {
		return fmt.Errorf("snapshot account count mismatch: header %d, loaded %d",
			header.AccountsCount, loaded)
	}

	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return fmt.Errorf("accounts hash: %w", err)
	}
	if hash != header.AccountsHash {
		return fmt.Errorf("snapshot hash mismatch: expected %s, got %s",
			header.AccountsHash, hash)
	}

	if err := db.SetSlot(header.Slot); err != nil {
		return err
	}
	return db.Commit()
}

// GetSnapshotSlot reads the slot of a snapshot file without loading it.
func GetSnapshotSlot(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	header, err := readSnapshotHeader(file)
	if err != nil {
		return 0, err
	}
	return header.Slot, nil
}

func writeSnapshotHeader(w io.Writer, header SnapshotHeader) error {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:], header.Version)
	binary.LittleEndian.PutUint64(buf[8:], header.Slot)
	binary.LittleEndian.PutUint64(buf[16:], header.AccountsCount)
	copy(buf[24:], header.AccountsHash[:])
	_, err := w.Write(buf)
	return err
}

func readSnapshotHeader(r io.Reader) (SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SnapshotHeader{}, fmt.Errorf("read snapshot header: %w", err)
	}
	if !bytes.Equal(buf[:4], snapshotMagic) {
		return SnapshotHeader{}, fmt.Errorf("not a snapshot file (bad magic)")
	}

	header := SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		Slot:          binary.LittleEndian.Uint64(buf[8:]),
		AccountsCount: binary.LittleEndian.Uint64(buf[16:]),
	}
	copy(header.AccountsHash[:], buf[24:])

	if header.Version != snapshotVersion {
		return SnapshotHeader{}, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	return header, nil
}
