package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/pkg/types"
)

// ChainHeadEvent is posted after the head moves, in either direction.
type ChainHeadEvent struct {
	Header       *types.Header
	Disconnected bool
}

type connectListener struct {
	id uint64
	fn func(*types.Block)
}

type disconnectListener struct {
	id uint64
	fn func(context.Context, *types.Block) error
}

// Chain is a single linear chain of blocks. Blocks are only appended on top
// of the head or removed from it; choosing between forks is left to callers.
type Chain struct {
	chainmu sync.Mutex   // serializes ConnectBlock and DisconnectBlock
	mu      sync.RWMutex // protects head

	store     *Store
	consensus *consensus.Consensus
	genesis   *types.Block
	head      *types.Header

	listenerMu          sync.Mutex
	nextListenerID      uint64
	connectListeners    []connectListener
	disconnectListeners []disconnectListener

	headFeed event.FeedOf[ChainHeadEvent]
	scope    event.SubscriptionScope

	metrics *metrics.Metrics
	logger  log.Logger
}

// New opens the chain stored in db, writing the genesis block if the
// database is empty.
func New(db ethdb.Database, cons *consensus.Consensus, gen *Genesis) (*Chain, error) {
	c := &Chain{
		store:     NewStore(db),
		consensus: cons,
		genesis:   gen.ToBlock(cons.Parameters()),
		logger:    log.New("module", "chain"),
	}

	headHash, err := c.store.ReadHeadHash()
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}

	if headHash == (common.Hash{}) {
		if err := c.store.WriteBlock(c.genesis); err != nil {
			return nil, fmt.Errorf("write genesis: %w", err)
		}
		c.head = c.genesis.Header
		c.logger.Info("Wrote genesis block", "sequence", c.head.Sequence, "hash", c.genesis.Hash())
		return c, nil
	}

	stored, err := c.store.ReadCanonicalHash(c.genesis.Sequence())
	if err != nil {
		return nil, fmt.Errorf("read genesis hash: %w", err)
	}
	if stored != c.genesis.Hash() {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrGenesisMismatch, stored.Hex(), c.genesis.Hash().Hex())
	}

	head, err := c.store.ReadBlock(headHash)
	if err != nil {
		return nil, fmt.Errorf("read head block: %w", err)
	}
	if head == nil {
		return nil, fmt.Errorf("%w: head %s", ErrMissingBlock, headHash.Hex())
	}
	c.head = head.Header
	c.logger.Info("Loaded chain", "head", c.head.Sequence, "hash", headHash)
	return c, nil
}

// SetMetrics attaches metrics instruments to the chain.
func (c *Chain) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
	m.HeadSequence.Update(int64(c.Head().Sequence))
}

// Genesis returns the genesis block.
func (c *Chain) Genesis() *types.Block {
	return c.genesis
}

// Head returns the current head header.
func (c *Chain) Head() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// GetBlock returns the block with the given hash, or nil if unknown.
func (c *Chain) GetBlock(ctx context.Context, hash common.Hash) (*types.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.ReadBlock(hash)
}

// GetHeader returns the header with the given hash, or nil if unknown.
func (c *Chain) GetHeader(ctx context.Context, hash common.Hash) (*types.Header, error) {
	block, err := c.GetBlock(ctx, hash)
	if err != nil || block == nil {
		return nil, err
	}
	return block.Header, nil
}

// GetBlockBySequence returns the canonical block at sequence, or nil.
func (c *Chain) GetBlockBySequence(ctx context.Context, sequence uint32) (*types.Block, error) {
	hash, err := c.store.ReadCanonicalHash(sequence)
	if err != nil || hash == (common.Hash{}) {
		return nil, err
	}
	return c.GetBlock(ctx, hash)
}

// ConnectBlock appends block on top of the head, then runs the connect
// listeners in registration order.
func (c *Chain) ConnectBlock(ctx context.Context, block *types.Block) error {
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.validate(block); err != nil {
		return err
	}
	if err := c.store.WriteBlock(block); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}

	c.mu.Lock()
	c.head = block.Header
	c.mu.Unlock()

	for _, l := range c.connectSnapshot() {
		l.fn(block)
	}
	c.headFeed.Send(ChainHeadEvent{Header: block.Header})

	if c.metrics != nil {
		c.metrics.HeadSequence.Update(int64(block.Sequence()))
		c.metrics.BlocksConnected.Inc(1)
	}
	c.logger.Info("Connected block",
		"sequence", block.Sequence(),
		"hash", block.Hash(),
		"txs", len(block.Transactions),
	)
	return nil
}

func (c *Chain) validate(block *types.Block) error {
	head := c.Head()
	if block.Header.PrevHash != head.Hash() {
		return fmt.Errorf("%w: parent %s, head %s", ErrNotExtendingHead, block.Header.PrevHash.Hex(), head.Hash().Hex())
	}
	if block.Sequence() != head.Sequence+1 {
		return fmt.Errorf("%w: have %d, want %d", ErrInvalidSequence, block.Sequence(), head.Sequence+1)
	}
	if root := types.DeriveTxRoot(block.Transactions); block.Header.TxRoot != root {
		return fmt.Errorf("%w: have %s, want %s", ErrInvalidTxRoot, block.Header.TxRoot.Hex(), root.Hex())
	}
	if size, limit := block.Size(), c.consensus.MaxBlockSizeBytes(); size > limit {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, size, limit)
	}
	return nil
}

// DisconnectBlock removes the head block, making its parent the new head,
// then runs the disconnect listeners in registration order. The first
// listener error is returned; the head has already moved by then.
func (c *Chain) DisconnectBlock(ctx context.Context) (*types.Block, error) {
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	head := c.Head()
	if head.Sequence <= c.genesis.Sequence() {
		return nil, ErrDisconnectGenesis
	}

	block, err := c.store.ReadBlock(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read head block: %w", err)
	}
	if block == nil {
		return nil, fmt.Errorf("%w: head %s", ErrMissingBlock, head.Hash().Hex())
	}
	parent, err := c.store.ReadBlock(head.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("read parent block: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %s", ErrMissingBlock, head.PrevHash.Hex())
	}

	if err := c.store.RewindHead(head.Sequence, parent.Hash()); err != nil {
		return nil, fmt.Errorf("rewind head: %w", err)
	}
	c.mu.Lock()
	c.head = parent.Header
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.HeadSequence.Update(int64(parent.Sequence()))
		c.metrics.BlocksDisconnected.Inc(1)
	}
	c.logger.Info("Disconnected block", "sequence", block.Sequence(), "hash", block.Hash())

	for _, l := range c.disconnectSnapshot() {
		if err := l.fn(ctx, block); err != nil {
			return block, fmt.Errorf("disconnect listener: %w", err)
		}
	}
	c.headFeed.Send(ChainHeadEvent{Header: parent.Header, Disconnected: true})
	return block, nil
}

// OnConnectBlock registers fn to run after every connected block.
func (c *Chain) OnConnectBlock(fn func(block *types.Block)) (unsubscribe func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.nextListenerID++
	id := c.nextListenerID
	c.connectListeners = append(c.connectListeners, connectListener{id: id, fn: fn})

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		for i, l := range c.connectListeners {
			if l.id == id {
				c.connectListeners = append(c.connectListeners[:i:i], c.connectListeners[i+1:]...)
				return
			}
		}
	}
}

// OnDisconnectBlock registers fn to run after every disconnected block.
func (c *Chain) OnDisconnectBlock(fn func(ctx context.Context, block *types.Block) error) (unsubscribe func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.nextListenerID++
	id := c.nextListenerID
	c.disconnectListeners = append(c.disconnectListeners, disconnectListener{id: id, fn: fn})

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		for i, l := range c.disconnectListeners {
			if l.id == id {
				c.disconnectListeners = append(c.disconnectListeners[:i:i], c.disconnectListeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Chain) connectSnapshot() []connectListener {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return append([]connectListener(nil), c.connectListeners...)
}

func (c *Chain) disconnectSnapshot() []disconnectListener {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return append([]disconnectListener(nil), c.disconnectListeners...)
}

// SubscribeChainHeadEvent registers ch to receive head changes.
func (c *Chain) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return c.scope.Track(c.headFeed.Subscribe(ch))
}

// Close closes subscriptions and the underlying database.
func (c *Chain) Close() error {
	c.scope.Close()
	return c.store.Close()
}
