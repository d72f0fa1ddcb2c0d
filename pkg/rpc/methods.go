package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/mr-tron/base58"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/accounts"
	"github.com/solcino/raffle-engine/pkg/ledger"
	"github.com/solcino/raffle-engine/pkg/node"
	"github.com/solcino/raffle-engine/pkg/runtime"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/raffle"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// parsePositional unmarshals positional JSON-RPC params.
func parsePositional(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 {
		return nil, nil
	}
	var positional []json.RawMessage
	if err := json.Unmarshal(params, &positional); err != nil {
		return nil, InvalidParamsf("params must be an array: %v", err)
	}
	return positional, nil
}

// parsePubkeyParam parses a base58 pubkey from a positional param.
func parsePubkeyParam(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsf("expected base58 pubkey string")
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsf("invalid pubkey: %v", err)
	}
	return pubkey, nil
}

func (s *Server) context() Context {
	return Context{Slot: s.backend.Slot()}
}

// getAccountInfo returns the account at the given address, or null.
func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey, config?]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	config := AccountInfoConfig{Encoding: EncodingBase64}
	if len(positional) > 1 {
		if err := json.Unmarshal(positional[1], &config); err != nil {
			return nil, InvalidParamsf("invalid config: %v", err)
		}
	}

	account, err := s.backend.DB().GetAccount(pubkey)
	if err == accounts.ErrAccountNotFound {
		return ResponseWithContext{Context: s.context(), Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	data, encErr := EncodeAccountData(account.Data, config.Encoding)
	if encErr != nil {
		return nil, InternalServerErrorf("encode account data: %v", encErr)
	}

	return ResponseWithContext{
		Context: s.context(),
		Value: AccountResult{
			Lamports:   account.Lamports,
			Data:       data,
			Owner:      account.Owner.String(),
			Executable: account.Executable,
			RentEpoch:  account.RentEpoch,
		},
	}, nil
}

// getBalance returns the lamport balance of an account, zero if absent.
func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var lamports uint64
	account, err := s.backend.DB().GetAccount(pubkey)
	if err == nil {
		lamports = account.Lamports
	} else if err != accounts.ErrAccountNotFound {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	return ResponseWithContext{Context: s.context(), Value: lamports}, nil
}

// getMinimumBalanceForRentExemption returns the rent floor for a data size.
func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [dataLength]")
	}
	var dataLen uint64
	if err := json.Unmarshal(positional[0], &dataLen); err != nil {
		return nil, InvalidParamsf("expected data length: %v", err)
	}
	return runtime.RentMinimum(dataLen), nil
}

// getConfig returns the decoded program config singleton.
func (s *Server) getConfig(params json.RawMessage) (interface{}, *RPCError) {
	address, _ := raffle.ConfigAddress()
	account, err := s.backend.DB().GetAccount(address)
	if err == accounts.ErrAccountNotFound {
		return nil, NewRPCError(AccountNotFound, "config not initialized")
	}
	if err != nil {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	config, decErr := raffle.DecodeConfig(account.Data)
	if decErr != nil {
		return nil, InternalServerErrorf("decode config: %v", decErr)
	}

	return ResponseWithContext{
		Context: s.context(),
		Value: ConfigResult{
			Address:     address.String(),
			Admin:       config.Admin.String(),
			Treasury:    config.Treasury.String(),
			TicketPrice: config.TicketPrice,
			FeeBps:      config.FeeBps,
		},
	}, nil
}

func raffleStatusString(status byte) string {
	switch status {
	case raffle.StatusActive:
		return "active"
	case raffle.StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// getRaffle returns a decoded raffle account.
func (s *Server) getRaffle(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, err := s.backend.DB().GetAccount(pubkey)
	if err == accounts.ErrAccountNotFound {
		return nil, NewRPCError(AccountNotFound, "raffle account not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	state, decErr := raffle.DecodeRaffle(account.Data)
	if decErr != nil {
		return nil, InvalidParamsf("account is not a raffle: %v", decErr)
	}

	var pot uint64
	if floor := runtime.RentMinimum(raffle.RaffleSize); account.Lamports > floor {
		pot = account.Lamports - floor
	}

	result := RaffleResult{
		Address:       pubkey.String(),
		Authority:     state.Authority.String(),
		Title:         state.TitleString(),
		EndTime:       state.EndTime,
		TicketPrice:   state.TicketPrice,
		Status:        raffleStatusString(state.Status),
		TicketsSold:   state.TicketsSold,
		FeeBps:        state.FeeBps,
		Treasury:      state.Treasury.String(),
		VrfInProgress: state.VrfInProgress,
		PotLamports:   pot,
	}
	if !state.Winner.IsZero() {
		result.Winner = state.Winner.String()
	}
	if !state.VrfAccount.IsZero() {
		result.VrfAccount = state.VrfAccount.String()
	}

	return ResponseWithContext{Context: s.context(), Value: result}, nil
}

// getTicketPurchase returns a decoded ticket purchase account.
func (s *Server) getTicketPurchase(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, err := s.backend.DB().GetAccount(pubkey)
	if err == accounts.ErrAccountNotFound {
		return nil, NewRPCError(AccountNotFound, "ticket purchase account not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	record, decErr := raffle.DecodeTicketPurchase(account.Data)
	if decErr != nil {
		return nil, InvalidParamsf("account is not a ticket purchase: %v", decErr)
	}

	return ResponseWithContext{
		Context: s.context(),
		Value: TicketPurchaseResult{
			Address:      pubkey.String(),
			Raffle:       record.Raffle.String(),
			Purchaser:    record.Purchaser.String(),
			FirstTicket:  record.FirstTicket,
			TicketCount:  record.TicketCount,
			PurchaseTime: record.PurchaseTime,
		},
	}, nil
}

func vrfStatusString(status byte) string {
	switch status {
	case vrf.StatusIdle:
		return "idle"
	case vrf.StatusPending:
		return "pending"
	case vrf.StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// getVrfState returns a decoded vrf state account.
func (s *Server) getVrfState(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, err := s.backend.DB().GetAccount(pubkey)
	if err == accounts.ErrAccountNotFound {
		return nil, NewRPCError(AccountNotFound, "vrf state account not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("get account: %v", err)
	}

	state, decErr := vrf.DecodeState(account.Data)
	if decErr != nil {
		return nil, InvalidParamsf("account is not a vrf state: %v", decErr)
	}

	result := VrfStateResult{
		Address:   pubkey.String(),
		Authority: state.Authority.String(),
		Oracle:    state.Oracle.String(),
		Seed:      state.Seed.String(),
		Counter:   state.Counter,
		Status:    vrfStatusString(state.Status),
	}
	if !state.Result.IsZero() {
		result.Result = state.Result.String()
	}

	return ResponseWithContext{Context: s.context(), Value: result}, nil
}

func entryResult(entry *ledger.Entry) EntryResult {
	accountStrs := make([]string, len(entry.Accounts))
	for i, pubkey := range entry.Accounts {
		accountStrs[i] = pubkey.String()
	}
	modifiedStrs := make([]string, len(entry.Modified))
	for i, pubkey := range entry.Modified {
		modifiedStrs[i] = pubkey.String()
	}
	return EntryResult{
		Seq:       entry.Seq,
		Time:      entry.Time,
		Hash:      entry.Hash.String(),
		ProgramID: entry.ProgramID.String(),
		Accounts:  accountStrs,
		Data:      base64.StdEncoding.EncodeToString(entry.Data),
		Logs:      entry.Logs,
		Modified:  modifiedStrs,
	}
}

// getLedgerEntry returns one ledger entry by sequence number or by base58
// message hash.
func (s *Server) getLedgerEntry(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [seq] or [hash]")
	}

	var entry *ledger.Entry
	var err error

	var seq uint64
	if json.Unmarshal(positional[0], &seq) == nil {
		entry, err = s.backend.Journal().GetEntry(seq)
	} else {
		var hashStr string
		if json.Unmarshal(positional[0], &hashStr) != nil {
			return nil, InvalidParamsf("expected sequence number or base58 hash")
		}
		hash, hashErr := types.HashFromBase58(hashStr)
		if hashErr != nil {
			return nil, InvalidParamsf("invalid hash: %v", hashErr)
		}
		entry, err = s.backend.Journal().GetEntryByHash(hash)
	}

	if err == ledger.ErrNotFound {
		return nil, NewRPCError(EntryNotFound, "entry not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("get entry: %v", err)
	}
	return entryResult(entry), nil
}

// getEntriesForAddress returns the ledger entries touching an account,
// oldest first. Params: [pubkey, {limit}].
func (s *Server) getEntriesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [pubkey, config?]")
	}
	pubkey, rpcErr := parsePubkeyParam(positional[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config struct {
		Limit int `json:"limit"`
	}
	if len(positional) > 1 {
		if err := json.Unmarshal(positional[1], &config); err != nil {
			return nil, InvalidParamsf("invalid config: %v", err)
		}
	}

	entries, err := s.backend.Journal().EntriesForAccount(pubkey, config.Limit)
	if err != nil {
		return nil, InternalServerErrorf("entries for account: %v", err)
	}

	results := make([]EntryResult, len(entries))
	for i, entry := range entries {
		results[i] = entryResult(entry)
	}
	return results, nil
}

// getSlot returns the committed instruction sequence number.
func (s *Server) getSlot(params json.RawMessage) (interface{}, *RPCError) {
	return s.backend.Slot(), nil
}

// getHealth returns "ok" when the node is healthy.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, NewRPCError(NodeUnhealthy, "node is unhealthy")
	}
	return "ok", nil
}

// getVersion returns node version information.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionResult{Version: Version}, nil
}

// sendInstruction submits a signed instruction message for execution.
func (s *Server) sendInstruction(params json.RawMessage) (interface{}, *RPCError) {
	positional, rpcErr := parsePositional(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(positional) < 1 {
		return nil, InvalidParamsf("expected [{message, signatures}]")
	}

	var submission SendInstructionParams
	if err := json.Unmarshal(positional[0], &submission); err != nil {
		return nil, InvalidParamsf("invalid submission: %v", err)
	}

	message, err := base64.StdEncoding.DecodeString(submission.Message)
	if err != nil {
		return nil, InvalidParamsf("message is not valid base64: %v", err)
	}

	signatures := make([]types.Signature, len(submission.Signatures))
	for i, sigStr := range submission.Signatures {
		raw, err := base58.Decode(sigStr)
		if err != nil {
			return nil, InvalidParamsf("signature %d is not valid base58: %v", i, err)
		}
		sig, err := types.SignatureFromBytes(raw)
		if err != nil {
			return nil, InvalidParamsf("signature %d: %v", i, err)
		}
		signatures[i] = sig
	}

	entry, err := s.backend.Submit(message, signatures)
	if err != nil {
		switch {
		case errors.Is(err, node.ErrBadSignature), errors.Is(err, node.ErrBadSignatureCount):
			return nil, NewRPCError(SignatureVerificationFailure, err.Error())
		case errors.Is(err, node.ErrDuplicateMessage):
			return nil, NewRPCError(DuplicateMessage, err.Error())
		default:
			return nil, NewRPCError(ExecutionFailure, err.Error())
		}
	}

	return SendInstructionResult{
		Seq:  entry.Seq,
		Hash: entry.Hash.String(),
		Logs: entry.Logs,
	}, nil
}
