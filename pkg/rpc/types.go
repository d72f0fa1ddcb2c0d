// JSON-RPC 2.0 protocol types.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// AccountInfoConfig configures getAccountInfo requests.
type AccountInfoConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// AccountResult is the wire form of an account.
type AccountResult struct {
	Lamports   uint64      `json:"lamports"`
	Data       interface{} `json:"data"`
	Owner      string      `json:"owner"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rentEpoch"`
}

// ConfigResult is the decoded program config.
type ConfigResult struct {
	Address     string `json:"address"`
	Admin       string `json:"admin"`
	Treasury    string `json:"treasury"`
	TicketPrice uint64 `json:"ticketPrice"`
	FeeBps      uint16 `json:"feeBps"`
}

// RaffleResult is a decoded raffle account.
type RaffleResult struct {
	Address       string `json:"address"`
	Authority     string `json:"authority"`
	Title         string `json:"title"`
	EndTime       int64  `json:"endTime"`
	TicketPrice   uint64 `json:"ticketPrice"`
	Status        string `json:"status"`
	Winner        string `json:"winner,omitempty"`
	TicketsSold   uint64 `json:"ticketsSold"`
	FeeBps        uint16 `json:"feeBps"`
	Treasury      string `json:"treasury"`
	VrfAccount    string `json:"vrfAccount,omitempty"`
	VrfInProgress bool   `json:"vrfInProgress"`
	PotLamports   uint64 `json:"potLamports"`
}

// TicketPurchaseResult is a decoded ticket purchase account.
type TicketPurchaseResult struct {
	Address      string `json:"address"`
	Raffle       string `json:"raffle"`
	Purchaser    string `json:"purchaser"`
	FirstTicket  uint64 `json:"firstTicket"`
	TicketCount  uint64 `json:"ticketCount"`
	PurchaseTime int64  `json:"purchaseTime"`
}

// VrfStateResult is a decoded vrf state account.
type VrfStateResult struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	Oracle    string `json:"oracle"`
	Seed      string `json:"seed"`
	Counter   uint64 `json:"counter"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
}

// EntryResult is a ledger entry on the wire.
type EntryResult struct {
	Seq       uint64   `json:"seq"`
	Time      int64    `json:"time"`
	Hash      string   `json:"hash"`
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"` // base64
	Logs      []string `json:"logs"`
	Modified  []string `json:"modified"`
}

// SendInstructionParams carries a signed instruction submission.
type SendInstructionParams struct {
	// Message is the base64-encoded canonical instruction message.
	Message string `json:"message"`

	// Signatures are base58-encoded, ordered by the message's distinct
	// required signers.
	Signatures []string `json:"signatures"`
}

// SendInstructionResult reports a committed submission.
type SendInstructionResult struct {
	Seq  uint64   `json:"seq"`
	Hash string   `json:"hash"`
	Logs []string `json:"logs"`
}

// VersionResult reports node version information.
type VersionResult struct {
	Version string `json:"raffle-engine"`
}
