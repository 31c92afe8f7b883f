package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/internal/mempool"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/pkg/types"
)

// defaultPendingLimit caps mempool_pending when no limit is given.
const defaultPendingLimit = 100

var errInvalidParams = errors.New("invalid params")

// Handler dispatches JSON-RPC methods to their implementations.
type Handler struct {
	pool      *mempool.MemPool
	chain     *chain.Chain
	estimator *fees.Estimator
	metrics   *metrics.Metrics
	logger    log.Logger
}

// NewHandler creates a new JSON-RPC handler.
func NewHandler(pool *mempool.MemPool, ch *chain.Chain, estimator *fees.Estimator) *Handler {
	return &Handler{
		pool:      pool,
		chain:     ch,
		estimator: estimator,
		logger:    log.New("module", "rpc-handler"),
	}
}

// SetMetrics attaches the Prometheus metrics instance.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Handle processes a single JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	h.logger.Debug("RPC request", "method", req.Method, "id", req.ID)

	if h.metrics != nil {
		h.metrics.RPCRequests.Inc(1)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "mempool_status":
		result = h.status()
	case "mempool_acceptTransaction":
		result, err = h.acceptTransaction(req.Params)
	case "mempool_getTransaction":
		result, err = h.getTransaction(req.Params)
	case "mempool_exists":
		result, err = h.exists(req.Params)
	case "mempool_recentlyEvicted":
		result, err = h.recentlyEvicted(req.Params)
	case "mempool_pending":
		result, err = h.pending(req.Params)
	case "fees_estimateFeeRate":
		result, err = h.estimateFeeRate(req.Params)
	case "fees_stats":
		result = h.estimator.Stats()
	case "chain_head":
		result = newRPCHeader(h.chain.Head())
	case "chain_getBlockBySequence":
		result, err = h.getBlockBySequence(ctx, req.Params)

	default:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)},
		}
	}

	if err != nil {
		if h.metrics != nil {
			h.metrics.RPCErrors.Inc(1)
		}
		code := codeServerError
		if errors.Is(err, errInvalidParams) {
			code = codeInvalidParams
		}
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: code, Message: err.Error()},
		}
	}

	encoded, _ := json.Marshal(result)
	raw := json.RawMessage(encoded)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  &raw,
	}
}

func (h *Handler) status() *MempoolStatus {
	s := h.pool.Status()
	return &MempoolStatus{
		Count:           s.Count,
		SizeBytes:       s.SizeBytes,
		MaxSizeBytes:    s.MaxSizeBytes,
		Full:            s.Full,
		SizeInBlocks:    s.SizeInBlocks,
		RecentlyEvicted: s.RecentlyEvicted,
		HeadSequence:    s.Head.Sequence,
		HeadHash:        s.Head.Hash(),
	}
}

// acceptTransaction decodes a hex RLP transaction and offers it to the pool.
// Pool rejections are reported in the result rather than as RPC errors.
func (h *Handler) acceptTransaction(params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, errInvalidParams
	}

	raw, err := hexutil.Decode(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex data: %v", errInvalidParams, err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: invalid transaction: %v", errInvalidParams, err)
	}

	res := &AcceptResult{Hash: tx.Hash(), Accepted: true}
	if err := h.pool.Accept(tx); err != nil {
		res.Accepted = false
		res.Reason = err.Error()
	}
	return res, nil
}

func (h *Handler) getTransaction(params json.RawMessage) (interface{}, error) {
	hash, err := hashParam(params)
	if err != nil {
		return nil, err
	}
	tx := h.pool.Get(hash)
	if tx == nil {
		return nil, nil
	}
	return newRPCTransaction(tx), nil
}

func (h *Handler) exists(params json.RawMessage) (interface{}, error) {
	hash, err := hashParam(params)
	if err != nil {
		return nil, err
	}
	return h.pool.Exists(hash), nil
}

func (h *Handler) recentlyEvicted(params json.RawMessage) (interface{}, error) {
	hash, err := hashParam(params)
	if err != nil {
		return nil, err
	}
	entry, ok := h.pool.RecentlyEvictedEntry(hash)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// pending returns pooled transactions in block template order.
func (h *Handler) pending(params json.RawMessage) (interface{}, error) {
	limit := defaultPendingLimit
	if len(params) > 0 {
		var args []int
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams
		}
		if len(args) > 0 {
			if args[0] <= 0 {
				return nil, fmt.Errorf("%w: limit must be positive", errInvalidParams)
			}
			limit = args[0]
		}
	}

	txs := make([]*RPCTransaction, 0, min(limit, h.pool.Count()))
	for it := h.pool.OrderedTransactions(); len(txs) < limit && it.Next(); {
		txs = append(txs, newRPCTransaction(it.Transaction()))
	}
	return txs, nil
}

func (h *Handler) estimateFeeRate(params json.RawMessage) (interface{}, error) {
	priority := fees.PriorityAverage
	if len(params) > 0 {
		var args []string
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams
		}
		if len(args) > 0 {
			priority = fees.Priority(args[0])
		}
	}
	rate, err := h.estimator.EstimateFeeRate(priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return hexutil.Uint64(rate), nil
}

func (h *Handler) getBlockBySequence(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []hexutil.Uint64
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, errInvalidParams
	}
	if args[0] > math.MaxUint32 {
		return nil, fmt.Errorf("%w: sequence %d out of range", errInvalidParams, uint64(args[0]))
	}
	block, err := h.chain.GetBlockBySequence(ctx, uint32(args[0]))
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	txs := make([]*RPCTransaction, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = newRPCTransaction(tx)
	}
	return map[string]interface{}{
		"header":       newRPCHeader(block.Header),
		"size":         hexutil.Uint64(block.Size()),
		"transactions": txs,
	}, nil
}

func hashParam(params json.RawMessage) (common.Hash, error) {
	var args []common.Hash
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return common.Hash{}, errInvalidParams
	}
	return args[0], nil
}
