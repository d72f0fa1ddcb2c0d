// Package oracle implements the randomness oracle for the raffle engine.
//
// The oracle holds the keypair registered in a vrf state account. When a
// raffle authority requests randomness, the vrf program derives a fresh seed
// and parks the request in Pending status. The oracle signs the seed and
// submits a fulfill instruction; the signature is the proof the program
// verifies before deriving the random result.
//
// Two deployment modes are supported: the Fulfiller polls a local node's
// account database directly, and the Feed streams account updates from a
// remote node over gRPC so the oracle can run out of process.
package oracle

import (
	"context"
	"log"
	"time"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/ledger"
	"github.com/solcino/raffle-engine/pkg/runtime"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// Backend is the node surface the fulfiller operates on.
type Backend interface {
	// DB returns the accounts database.
	DB() accounts.DB

	// SubmitSigned serializes, signs, and submits an instruction.
	SubmitSigned(ix runtime.Instruction, keypairs ...*types.Keypair) (*ledger.Entry, error)
}

// FulfillResult describes one completed fulfillment.
type FulfillResult struct {
	// State is the vrf state account that was fulfilled.
	State types.Pubkey

	// Seed is the seed that was signed.
	Seed types.Hash

	// Result is the derived random result.
	Result types.Hash

	// Seq is the ledger sequence of the fulfill instruction.
	Seq uint64
}

// Fulfiller watches for pending randomness requests addressed to its keypair
// and answers them.
type Fulfiller struct {
	config  FulfillerConfig
	backend Backend
	keypair *types.Keypair
}

// NewFulfiller creates a fulfiller for the given oracle keypair.
func NewFulfiller(config FulfillerConfig, backend Backend, keypair *types.Keypair) *Fulfiller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Fulfiller{
		config:  config,
		backend: backend,
		keypair: keypair,
	}
}

// Pubkey returns the oracle's public key.
func (f *Fulfiller) Pubkey() types.Pubkey {
	return f.keypair.Pubkey
}

// pendingRequest is one vrf state account waiting for this oracle.
type pendingRequest struct {
	state types.Pubkey
	seed  types.Hash
}

// Scan walks the accounts database once and fulfills every pending request
// addressed to this oracle. It returns the number of fulfillments submitted.
func (f *Fulfiller) Scan() (int, error) {
	var pending []pendingRequest

	err := f.backend.DB().IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		if account.Owner != vrf.ProgramID {
			return nil
		}
		state, err := vrf.DecodeState(account.Data)
		if err != nil || !state.Initialized {
			return nil
		}
		if state.Status != vrf.StatusPending || state.Oracle != f.keypair.Pubkey {
			return nil
		}
		pending = append(pending, pendingRequest{state: pubkey, seed: state.Seed})
		return nil
	})
	if err != nil {
		return 0, err
	}

	fulfilled := 0
	for _, req := range pending {
		if err := f.fulfill(req); err != nil {
			if f.config.OnError != nil {
				f.config.OnError(err)
			} else {
				log.Printf("oracle: fulfill %s failed: %v", req.state, err)
			}
			continue
		}
		fulfilled++
	}
	return fulfilled, nil
}

// fulfill signs one seed and submits the proof.
func (f *Fulfiller) fulfill(req pendingRequest) error {
	sig := f.keypair.Sign(req.seed[:])
	ix := vrf.NewFulfillInstruction(f.keypair.Pubkey, req.state, sig)

	entry, err := f.backend.SubmitSigned(ix, f.keypair)
	if err != nil {
		return err
	}

	if f.config.OnFulfill != nil {
		f.config.OnFulfill(FulfillResult{
			State:  req.state,
			Seed:   req.seed,
			Result: vrf.DeriveResult(sig),
			Seq:    entry.Seq,
		})
	}
	return nil
}

// Run polls for pending requests until the context is canceled.
func (f *Fulfiller) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.Scan(); err != nil {
				log.Printf("oracle: scan failed: %v", err)
			}
		}
	}
}
