package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/node"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/raffle"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/system"
)

type testServer struct {
	t      *testing.T
	server *Server
	node   *node.Node
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "rpc_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	nodeCfg := node.DefaultConfig(tmpDir)
	nodeCfg.InMemory = true
	nodeCfg.SnapshotInterval = 0
	n, err := node.New(nodeCfg)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(func() { n.Close() })

	s := New(DefaultConfig(), n)
	httpServer := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	t.Cleanup(httpServer.Close)

	return &testServer{t: t, server: s, node: n, http: httpServer}
}

// call performs a JSON-RPC request and returns the response.
func (ts *testServer) call(method string, params interface{}) Response {
	ts.t.Helper()

	reqBody := map[string]interface{}{
		"jsonrpc": JSONRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		ts.t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(ts.http.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		ts.t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		ts.t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func (ts *testServer) mustResult(method string, params interface{}, out interface{}) {
	ts.t.Helper()
	resp := ts.call(method, params)
	if resp.Error != nil {
		ts.t.Fatalf("%s error: %v", method, resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		ts.t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		ts.t.Fatalf("unmarshal result: %v", err)
	}
}

func testKeypair(t *testing.T, n byte) *types.Keypair {
	t.Helper()
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("keypair from seed: %v", err)
	}
	return kp
}

func fund(t *testing.T, n *node.Node, key types.Pubkey, lamports uint64) {
	t.Helper()
	if err := n.DB().SetAccount(key, &accounts.Account{Lamports: lamports}); err != nil {
		t.Fatalf("fund %s: %v", key, err)
	}
}

func TestGetHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	var health string
	ts.mustResult("getHealth", nil, &health)
	if health != "ok" {
		t.Fatalf("health = %q, want ok", health)
	}

	ts.server.SetHealthy(false)
	resp := ts.call("getHealth", nil)
	if resp.Error == nil || resp.Error.Code != NodeUnhealthy {
		t.Fatalf("error = %v, want code %d", resp.Error, NodeUnhealthy)
	}

	var version VersionResult
	ts.mustResult("getVersion", nil, &version)
	if version.Version != Version {
		t.Fatalf("version = %q, want %q", version.Version, Version)
	}
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.call("noSuchMethod", nil)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("error = %v, want code %d", resp.Error, MethodNotFound)
	}
}

func TestGetBalanceAndAccountInfo(t *testing.T) {
	ts := newTestServer(t)

	key := testKeypair(t, 1).Pubkey
	fund(t, ts.node, key, 12345)

	var balance ResponseWithContext
	ts.mustResult("getBalance", []interface{}{key.String()}, &balance)
	if got := uint64(balance.Value.(float64)); got != 12345 {
		t.Fatalf("balance = %d, want 12345", got)
	}

	// Unknown accounts read as zero balance, null info.
	var zero ResponseWithContext
	ts.mustResult("getBalance", []interface{}{types.Pubkey{9}.String()}, &zero)
	if got := uint64(zero.Value.(float64)); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}

	var info ResponseWithContext
	ts.mustResult("getAccountInfo", []interface{}{types.Pubkey{9}.String()}, &info)
	if info.Value != nil {
		t.Fatalf("account info = %v, want null", info.Value)
	}
}

func TestGetAccountInfoEncodings(t *testing.T) {
	ts := newTestServer(t)

	key := testKeypair(t, 1).Pubkey
	data := []byte("raffle account payload")
	if err := ts.node.DB().SetAccount(key, &accounts.Account{
		Lamports: 100,
		Data:     data,
		Owner:    types.Pubkey{5},
	}); err != nil {
		t.Fatalf("set account: %v", err)
	}

	for _, encoding := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		var info ResponseWithContext
		ts.mustResult("getAccountInfo",
			[]interface{}{key.String(), map[string]string{"encoding": string(encoding)}}, &info)

		value := info.Value.(map[string]interface{})
		pair := value["data"].([]interface{})
		if pair[1].(string) != string(encoding) {
			t.Fatalf("encoding tag = %v, want %s", pair[1], encoding)
		}
		decoded, err := DecodeAccountData(pair[0].(string), encoding)
		if err != nil {
			t.Fatalf("decode %s: %v", encoding, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("%s round trip mismatch", encoding)
		}
	}
}

func TestSendInstructionAndQueries(t *testing.T) {
	ts := newTestServer(t)

	admin := testKeypair(t, 1)
	treasury := testKeypair(t, 2)
	fund(t, ts.node, admin.Pubkey, 100_000_000_000)

	ix := raffle.NewInitializeConfigInstruction(admin.Pubkey, treasury.Pubkey, 100_000_000, 500)
	message := ix.Serialize()
	sig := admin.Sign(message)

	var sent SendInstructionResult
	ts.mustResult("sendInstruction", []interface{}{SendInstructionParams{
		Message:    base64.StdEncoding.EncodeToString(message),
		Signatures: []string{base58.Encode(sig[:])},
	}}, &sent)
	if sent.Seq != 1 {
		t.Fatalf("seq = %d, want 1", sent.Seq)
	}

	var slot uint64
	ts.mustResult("getSlot", nil, &slot)
	if slot != 1 {
		t.Fatalf("slot = %d, want 1", slot)
	}

	var config ResponseWithContext
	ts.mustResult("getConfig", nil, &config)
	value := config.Value.(map[string]interface{})
	if value["admin"].(string) != admin.Pubkey.String() {
		t.Fatalf("admin = %v, want %s", value["admin"], admin.Pubkey)
	}
	if uint64(value["ticketPrice"].(float64)) != 100_000_000 {
		t.Fatalf("ticket price = %v", value["ticketPrice"])
	}

	var entry EntryResult
	ts.mustResult("getLedgerEntry", []interface{}{1}, &entry)
	if entry.Hash != sent.Hash {
		t.Fatalf("entry hash = %s, want %s", entry.Hash, sent.Hash)
	}

	// Lookup by hash returns the same entry.
	var byHash EntryResult
	ts.mustResult("getLedgerEntry", []interface{}{sent.Hash}, &byHash)
	if byHash.Seq != 1 {
		t.Fatalf("by-hash seq = %d, want 1", byHash.Seq)
	}

	var entries []EntryResult
	ts.mustResult("getEntriesForAddress", []interface{}{admin.Pubkey.String()}, &entries)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestSendInstructionRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)

	from := testKeypair(t, 1)
	to := testKeypair(t, 2)
	fund(t, ts.node, from.Pubkey, 1000)

	ix := system.NewTransferInstruction(from.Pubkey, to.Pubkey, 100)
	message := ix.Serialize()
	badSig := to.Sign(message)

	resp := ts.call("sendInstruction", []interface{}{SendInstructionParams{
		Message:    base64.StdEncoding.EncodeToString(message),
		Signatures: []string{base58.Encode(badSig[:])},
	}})
	if resp.Error == nil || resp.Error.Code != SignatureVerificationFailure {
		t.Fatalf("error = %v, want code %d", resp.Error, SignatureVerificationFailure)
	}
}

func TestSendInstructionReportsExecutionFailure(t *testing.T) {
	ts := newTestServer(t)

	from := testKeypair(t, 1)
	to := testKeypair(t, 2)
	fund(t, ts.node, from.Pubkey, 50)

	ix := system.NewTransferInstruction(from.Pubkey, to.Pubkey, 100)
	message := ix.Serialize()
	sig := from.Sign(message)

	resp := ts.call("sendInstruction", []interface{}{SendInstructionParams{
		Message:    base64.StdEncoding.EncodeToString(message),
		Signatures: []string{base58.Encode(sig[:])},
	}})
	if resp.Error == nil || resp.Error.Code != ExecutionFailure {
		t.Fatalf("error = %v, want code %d", resp.Error, ExecutionFailure)
	}
}

func TestBatchRequest(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"getSlot"},
		{"jsonrpc":"2.0","id":2,"method":"getHealth"},
		{"jsonrpc":"1.0","id":3,"method":"getSlot"}
	]`)
	resp, err := http.Post(ts.http.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var responses []Response
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("responses = %d, want 3", len(responses))
	}
	if responses[0].Error != nil || responses[1].Error != nil {
		t.Fatalf("unexpected errors: %v %v", responses[0].Error, responses[1].Error)
	}
	if responses[2].Error == nil || responses[2].Error.Code != InvalidRequest {
		t.Fatalf("error = %v, want code %d", responses[2].Error, InvalidRequest)
	}
}

func TestGetMinimumBalanceForRentExemption(t *testing.T) {
	ts := newTestServer(t)

	var minimum uint64
	ts.mustResult("getMinimumBalanceForRentExemption", []interface{}{uint64(raffle.RaffleSize)}, &minimum)
	if minimum == 0 {
		t.Fatal("rent minimum should be nonzero")
	}
}
