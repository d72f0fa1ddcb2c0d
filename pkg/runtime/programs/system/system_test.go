package system

import (
	"errors"
	"testing"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/runtime"
)

func newEngine(t *testing.T) (*runtime.Engine, accounts.DB) {
	t.Helper()
	db := accounts.NewMemoryDB()
	engine := runtime.NewEngine(db)
	engine.Register(ProgramID, NewProcessor())
	return engine, db
}

func TestCreateAccount(t *testing.T) {
	engine, db := newEngine(t)

	funder := types.Pubkey{1}
	fresh := types.Pubkey{2}
	owner := types.Pubkey{3}
	if err := db.SetAccount(funder, &accounts.Account{Lamports: 10_000_000_000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	rent := runtime.RentMinimum(100)
	ix := NewCreateAccountInstruction(funder, fresh, owner, rent, 100)
	if _, err := engine.Execute(ix, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}

	acc, err := db.GetAccount(fresh)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Lamports != rent {
		t.Fatalf("lamports = %d, want %d", acc.Lamports, rent)
	}
	if len(acc.Data) != 100 {
		t.Fatalf("data len = %d, want 100", len(acc.Data))
	}
	if acc.Owner != owner {
		t.Fatalf("owner = %s, want %s", acc.Owner, owner)
	}

	// Creating the same account again must fail.
	_, err = engine.Execute(ix, 0)
	if !errors.Is(err, ErrAccountAlreadyInUse) {
		t.Fatalf("err = %v, want %v", err, ErrAccountAlreadyInUse)
	}
}

func TestCreateAccountBelowRent(t *testing.T) {
	engine, db := newEngine(t)

	funder := types.Pubkey{1}
	if err := db.SetAccount(funder, &accounts.Account{Lamports: 10_000_000_000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	ix := NewCreateAccountInstruction(funder, types.Pubkey{2}, types.Pubkey{3},
		runtime.RentMinimum(100)-1, 100)
	_, err := engine.Execute(ix, 0)
	if !errors.Is(err, ErrAccountNotRentExempt) {
		t.Fatalf("err = %v, want %v", err, ErrAccountNotRentExempt)
	}
}

func TestTransfer(t *testing.T) {
	engine, db := newEngine(t)

	from := types.Pubkey{1}
	to := types.Pubkey{2}
	if err := db.SetAccount(from, &accounts.Account{Lamports: 1000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if _, err := engine.Execute(NewTransferInstruction(from, to, 300), 0); err != nil {
		t.Fatalf("execute: %v", err)
	}

	fromAcc, _ := db.GetAccount(from)
	toAcc, _ := db.GetAccount(to)
	if fromAcc.Lamports != 700 || toAcc.Lamports != 300 {
		t.Fatalf("balances = %d/%d, want 700/300", fromAcc.Lamports, toAcc.Lamports)
	}

	// Overdraw fails and leaves balances untouched.
	_, err := engine.Execute(NewTransferInstruction(from, to, 701), 0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientFunds)
	}
	fromAcc, _ = db.GetAccount(from)
	if fromAcc.Lamports != 700 {
		t.Fatalf("failed transfer changed balance: %d", fromAcc.Lamports)
	}
}

func TestTransferRejectsProgramOwnedSource(t *testing.T) {
	engine, db := newEngine(t)

	from := types.Pubkey{1}
	to := types.Pubkey{2}
	owner := types.Pubkey{9}
	if err := db.SetAccount(from, &accounts.Account{Lamports: 1000, Owner: owner}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// Holding the account's keypair is not enough once a program owns it.
	_, err := engine.Execute(NewTransferInstruction(from, to, 100), 0)
	if !errors.Is(err, ErrInvalidAccountOwner) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidAccountOwner)
	}

	fromAcc, _ := db.GetAccount(from)
	if fromAcc.Lamports != 1000 {
		t.Fatalf("rejected transfer changed balance: %d", fromAcc.Lamports)
	}
	if _, err := db.GetAccount(to); err != accounts.ErrAccountNotFound {
		t.Fatalf("rejected transfer credited destination: %v", err)
	}
}

func TestTransferRejectsDataCarryingSource(t *testing.T) {
	engine, db := newEngine(t)

	from := types.Pubkey{1}
	if err := db.SetAccount(from, &accounts.Account{Lamports: 1000, Data: []byte{1}}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err := engine.Execute(NewTransferInstruction(from, types.Pubkey{2}, 100), 0)
	if !errors.Is(err, ErrSourceHoldsData) {
		t.Fatalf("err = %v, want %v", err, ErrSourceHoldsData)
	}
}

func TestCreateAccountRejectsProgramOwnedFunder(t *testing.T) {
	engine, db := newEngine(t)

	funder := types.Pubkey{1}
	owner := types.Pubkey{9}
	if err := db.SetAccount(funder, &accounts.Account{Lamports: 10_000_000_000, Owner: owner}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	ix := NewCreateAccountInstruction(funder, types.Pubkey{2}, types.Pubkey{3},
		runtime.RentMinimum(100), 100)
	_, err := engine.Execute(ix, 0)
	if !errors.Is(err, ErrInvalidAccountOwner) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidAccountOwner)
	}

	funderAcc, _ := db.GetAccount(funder)
	if funderAcc.Lamports != 10_000_000_000 {
		t.Fatalf("rejected create debited funder: %d", funderAcc.Lamports)
	}
}

func TestTransferRequiresSigner(t *testing.T) {
	engine, db := newEngine(t)

	from := types.Pubkey{1}
	if err := db.SetAccount(from, &accounts.Account{Lamports: 1000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	ix := NewTransferInstruction(from, types.Pubkey{2}, 100)
	ix.Accounts[0].IsSigner = false
	_, err := engine.Execute(ix, 0)
	if !errors.Is(err, ErrMissingRequiredSignature) {
		t.Fatalf("err = %v, want %v", err, ErrMissingRequiredSignature)
	}
}

func TestAssign(t *testing.T) {
	engine, db := newEngine(t)

	target := types.Pubkey{1}
	newOwner := types.Pubkey{7}
	if err := db.SetAccount(target, &accounts.Account{Lamports: 1000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if _, err := engine.Execute(NewAssignInstruction(target, newOwner), 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	acc, _ := db.GetAccount(target)
	if acc.Owner != newOwner {
		t.Fatalf("owner = %s, want %s", acc.Owner, newOwner)
	}

	// Once assigned away, the system program no longer owns the account.
	_, err := engine.Execute(NewAssignInstruction(target, types.Pubkey{8}), 0)
	if !errors.Is(err, ErrInvalidAccountOwner) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidAccountOwner)
	}
}

func TestUnknownDiscriminant(t *testing.T) {
	engine, _ := newEngine(t)
	ix := runtime.Instruction{
		ProgramID: ProgramID,
		Data:      []byte{0xFF, 0xFF, 0xFF, 0xFF},
	}
	_, err := engine.Execute(ix, 0)
	if !errors.Is(err, ErrInvalidInstructionData) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidInstructionData)
	}
}
