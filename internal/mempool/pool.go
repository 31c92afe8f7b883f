package mempool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/pkg/types"
)

// Blockchain is the chain the pool follows.
type Blockchain interface {
	fees.Chain

	// GetHeader returns the header with the given hash, or nil if unknown.
	GetHeader(ctx context.Context, hash common.Hash) (*types.Header, error)

	// OnConnectBlock registers fn to run, in registration order, after
	// the head advances. The returned func unregisters it.
	OnConnectBlock(fn func(block *types.Block)) (unsubscribe func())

	// OnDisconnectBlock registers fn to run, in registration order, after
	// the head rolls back. The returned func unregisters it.
	OnDisconnectBlock(fn func(ctx context.Context, block *types.Block) error) (unsubscribe func())
}

// Consensus is the subset of consensus rules the pool applies.
type Consensus interface {
	IsExpiredSequence(expiration, sequence uint32) bool
	MaxBlockSizeBytes() uint64
}

// FeeEstimator is notified of chain changes alongside the pool.
type FeeEstimator interface {
	Init(ctx context.Context, chain fees.Chain) error
	OnConnectBlock(block *types.Block, pool fees.Pool)
	OnDisconnectBlock(block *types.Block)
}

// NewTxsEvent is posted when a transaction enters the pool through Accept.
type NewTxsEvent struct {
	Txs []*types.Transaction
}
