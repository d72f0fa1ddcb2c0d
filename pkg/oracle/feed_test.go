package oracle

import (
	"os"
	"testing"
	"time"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

func TestFeedConfigValidate(t *testing.T) {
	cfg := DefaultFeedConfig()
	if err := cfg.Validate(); err != ErrNoEndpoint {
		t.Fatalf("err = %v, want %v", err, ErrNoEndpoint)
	}

	cfg.Endpoint = "feed.example.com:443"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.ReconnectMaxDelay = bad.ReconnectMinDelay - time.Millisecond
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for max delay below min delay")
	}

	bad = cfg
	bad.UpdateChannelSize = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative channel size")
	}
}

func TestFeedConfigWithDefaults(t *testing.T) {
	cfg := FeedConfig{Endpoint: "feed.example.com:443"}
	cfg = cfg.WithDefaults()

	if cfg.UpdateChannelSize != DefaultUpdateChannelSize {
		t.Fatalf("channel size = %d, want %d", cfg.UpdateChannelSize, DefaultUpdateChannelSize)
	}
	if cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("ping interval = %v, want %v", cfg.PingInterval, DefaultPingInterval)
	}
	if cfg.Headers == nil {
		t.Fatal("headers map not initialized")
	}

	// Explicit values survive.
	custom := FeedConfig{Endpoint: "x:1", UpdateChannelSize: 7}
	custom = custom.WithDefaults()
	if custom.UpdateChannelSize != 7 {
		t.Fatalf("channel size = %d, want 7", custom.UpdateChannelSize)
	}
}

func TestFeedConfigTokenExpansion(t *testing.T) {
	os.Setenv("ORACLE_TEST_TOKEN", "secret123")
	defer os.Unsetenv("ORACLE_TEST_TOKEN")

	cfg := FeedConfig{Token: "${ORACLE_TEST_TOKEN}"}
	if got := cfg.ExpandedToken(); got != "secret123" {
		t.Fatalf("token = %q, want secret123", got)
	}

	cfg.Token = "literal"
	if got := cfg.ExpandedToken(); got != "literal" {
		t.Fatalf("token = %q, want literal", got)
	}
}

func TestConvertAccountUpdate(t *testing.T) {
	f := &Feed{config: DefaultFeedConfig()}

	pubkey := types.Pubkey{1, 2, 3}
	owner := vrf.ProgramID
	pb := &accountUpdate{
		Pubkey:   pubkey[:],
		Lamports: 500,
		Owner:    owner[:],
		Data:     []byte{9, 9},
		Slot:     42,
	}

	update := f.convertAccountUpdate(pb)
	if update.Pubkey != pubkey {
		t.Fatalf("pubkey = %s, want %s", update.Pubkey, pubkey)
	}
	if update.Owner != owner {
		t.Fatalf("owner = %s, want %s", update.Owner, owner)
	}
	if update.Lamports != 500 || update.Slot != 42 {
		t.Fatalf("lamports/slot = %d/%d", update.Lamports, update.Slot)
	}

	// Truncated keys are left zero rather than partially copied.
	short := &accountUpdate{Pubkey: []byte{1, 2}}
	update = f.convertAccountUpdate(short)
	if update.Pubkey != (types.Pubkey{}) {
		t.Fatalf("pubkey = %s, want zero", update.Pubkey)
	}
}

func TestPendingVrfState(t *testing.T) {
	seed := types.Hash{7}
	state := &vrf.State{
		Initialized: true,
		Authority:   types.Pubkey{1},
		Oracle:      types.Pubkey{2},
		Seed:        seed,
		Counter:     3,
		Status:      vrf.StatusPending,
	}

	data := make([]byte, vrf.StateSize)
	if err := state.Encode(data); err != nil {
		t.Fatalf("encode state: %v", err)
	}
	update := &AccountUpdate{
		Owner: vrf.ProgramID,
		Data:  data,
	}
	decoded, pending := update.PendingVrfState()
	if !pending {
		t.Fatal("expected pending state")
	}
	if decoded.Seed != seed || decoded.Counter != 3 {
		t.Fatalf("decoded state mismatch: %+v", decoded)
	}

	// Finalized state decodes but is not pending.
	state.Status = vrf.StatusFinalized
	if err := state.Encode(update.Data); err != nil {
		t.Fatalf("encode state: %v", err)
	}
	if _, pending := update.PendingVrfState(); pending {
		t.Fatal("finalized state reported as pending")
	}

	// Foreign owner is ignored.
	update.Owner = types.Pubkey{0xFF}
	if decoded, _ := update.PendingVrfState(); decoded != nil {
		t.Fatal("foreign account decoded as vrf state")
	}

	// Garbage data is ignored.
	update.Owner = vrf.ProgramID
	update.Data = []byte{1, 2, 3}
	if decoded, _ := update.PendingVrfState(); decoded != nil {
		t.Fatal("garbage decoded as vrf state")
	}
}

func TestFeedRequiresEndpoint(t *testing.T) {
	if _, err := NewFeed(FeedConfig{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
