package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// JSONRPCRequest represents an incoming JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents an outgoing JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
	ID      interface{}      `json:"id"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RPCTransaction is the JSON view of a transaction.
type RPCTransaction struct {
	Hash       common.Hash    `json:"hash"`
	Fee        hexutil.Uint64 `json:"fee"`
	FeeRate    hexutil.Uint64 `json:"feeRate"`
	Size       hexutil.Uint64 `json:"size"`
	Expiration hexutil.Uint64 `json:"expiration"`
	Spends     []types.Spend  `json:"spends"`
	Notes      []types.Note   `json:"notes"`
	Raw        hexutil.Bytes  `json:"raw"`
}

func newRPCTransaction(tx *types.Transaction) *RPCTransaction {
	raw, _ := tx.MarshalBinary()
	return &RPCTransaction{
		Hash:       tx.Hash(),
		Fee:        hexutil.Uint64(tx.Fee()),
		FeeRate:    hexutil.Uint64(fees.FeeRate(tx)),
		Size:       hexutil.Uint64(tx.Size()),
		Expiration: hexutil.Uint64(tx.Expiration()),
		Spends:     tx.Spends(),
		Notes:      tx.Notes(),
		Raw:        raw,
	}
}

// RPCHeader is the JSON view of a block header.
type RPCHeader struct {
	Hash      common.Hash    `json:"hash"`
	Sequence  hexutil.Uint64 `json:"sequence"`
	PrevHash  common.Hash    `json:"prevHash"`
	TxRoot    common.Hash    `json:"txRoot"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
	Miner     common.Address `json:"miner"`
}

func newRPCHeader(h *types.Header) *RPCHeader {
	return &RPCHeader{
		Hash:      h.Hash(),
		Sequence:  hexutil.Uint64(h.Sequence),
		PrevHash:  h.PrevHash,
		TxRoot:    h.TxRoot,
		Timestamp: hexutil.Uint64(h.Timestamp),
		Miner:     h.Miner,
	}
}

// MempoolStatus summarizes the mempool.
type MempoolStatus struct {
	Count           int         `json:"count"`
	SizeBytes       uint64      `json:"sizeBytes"`
	MaxSizeBytes    uint64      `json:"maxSizeBytes"`
	Full            bool        `json:"full"`
	SizeInBlocks    uint64      `json:"sizeInBlocks"`
	RecentlyEvicted int         `json:"recentlyEvicted"`
	HeadSequence    uint32      `json:"headSequence"`
	HeadHash        common.Hash `json:"headHash"`
}

// AcceptResult reports the outcome of mempool_acceptTransaction.
type AcceptResult struct {
	Hash     common.Hash `json:"hash"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
}
