package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/solcino/raffle-engine/internal/types"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ledger_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "ledger.db")
	j, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	return j, path
}

func testEntry(n byte) *Entry {
	return &Entry{
		Time:      1_000_000 + int64(n),
		Hash:      types.Hash{n},
		ProgramID: types.Pubkey{0xAA},
		Accounts:  []types.Pubkey{{n}, {0xBB}},
		Data:      []byte{n, 1, 2},
		Logs:      []string{"log line"},
		Modified:  []types.Pubkey{{n}},
	}
}

func TestAppendAndGet(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	entry := testEntry(1)
	if err := j.Append(entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Seq != 1 {
		t.Fatalf("seq = %d, want 1", entry.Seq)
	}
	if j.LastSeq() != 1 {
		t.Fatalf("last seq = %d, want 1", j.LastSeq())
	}

	got, err := j.GetEntry(1)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Hash != entry.Hash || got.Time != entry.Time {
		t.Fatalf("entry mismatch: %+v", got)
	}
	if len(got.Accounts) != 2 || got.Accounts[0] != entry.Accounts[0] {
		t.Fatalf("accounts mismatch: %v", got.Accounts)
	}

	byHash, err := j.GetEntryByHash(entry.Hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.Seq != 1 {
		t.Fatalf("by-hash seq = %d, want 1", byHash.Seq)
	}

	if _, err := j.GetEntry(2); err != ErrNotFound {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestAppendRejectsDuplicateHash(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	if err := j.Append(testEntry(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(testEntry(1)); err != ErrDuplicateEntry {
		t.Fatalf("err = %v, want %v", err, ErrDuplicateEntry)
	}

	has, err := j.HasEntry(types.Hash{1})
	if err != nil {
		t.Fatalf("has entry: %v", err)
	}
	if !has {
		t.Fatal("entry not found by hash")
	}
}

func TestEntriesForAccount(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	for n := byte(1); n <= 5; n++ {
		if err := j.Append(testEntry(n)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Account 0xBB is in every entry.
	all, err := j.EntriesForAccount(types.Pubkey{0xBB}, 0)
	if err != nil {
		t.Fatalf("entries for account: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("entries = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatal("entries not in ascending sequence order")
		}
	}

	// Account {3} appears in exactly one entry.
	one, err := j.EntriesForAccount(types.Pubkey{3}, 0)
	if err != nil {
		t.Fatalf("entries for account: %v", err)
	}
	if len(one) != 1 || one[0].Hash != (types.Hash{3}) {
		t.Fatalf("entries = %+v, want the single {3} entry", one)
	}

	limited, err := j.EntriesForAccount(types.Pubkey{0xBB}, 2)
	if err != nil {
		t.Fatalf("entries for account: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited entries = %d, want 2", len(limited))
	}

	none, err := j.EntriesForAccount(types.Pubkey{0xEE}, 0)
	if err != nil {
		t.Fatalf("entries for account: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("entries = %d, want 0", len(none))
	}
}

func TestJournalReopen(t *testing.T) {
	j, path := openTestJournal(t)

	for n := byte(1); n <= 3; n++ {
		if err := j.Append(testEntry(n)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.LastSeq() != 3 {
		t.Fatalf("last seq after reopen = %d, want 3", reopened.LastSeq())
	}

	// The sequence keeps counting from where it left off.
	entry := testEntry(4)
	if err := reopened.Append(entry); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if entry.Seq != 4 {
		t.Fatalf("seq = %d, want 4", entry.Seq)
	}
}

func TestClosedJournal(t *testing.T) {
	j, _ := openTestJournal(t)
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := j.Append(testEntry(1)); err != ErrClosed {
		t.Fatalf("append err = %v, want %v", err, ErrClosed)
	}
	if _, err := j.GetEntry(1); err != ErrClosed {
		t.Fatalf("get err = %v, want %v", err, ErrClosed)
	}
}
