package mempool

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/pkg/types"
)

// mempoolEntry orders a transaction by fee rate.
type mempoolEntry struct {
	hash    common.Hash
	feeRate uint64
}

// expirationEntry orders a transaction by expiration sequence.
type expirationEntry struct {
	hash       common.Hash
	expiration uint32
}

// feeRateBefore serves higher fee rates first and breaks ties by ascending hash.
func feeRateBefore(a, b mempoolEntry) bool {
	if a.feeRate != b.feeRate {
		return a.feeRate > b.feeRate
	}
	return bytes.Compare(a.hash[:], b.hash[:]) < 0
}

// evictionBefore is the exact reverse of feeRateBefore.
func evictionBefore(a, b mempoolEntry) bool {
	return feeRateBefore(b, a)
}

// expirationBefore serves the earliest expiration first. Transactions that
// never expire sort last so they cannot hide expired ones from the sweep.
func expirationBefore(a, b expirationEntry) bool {
	ea, eb := uint64(a.expiration), uint64(b.expiration)
	if ea == 0 {
		ea = 1 << 32
	}
	if eb == 0 {
		eb = 1 << 32
	}
	if ea != eb {
		return ea < eb
	}
	return bytes.Compare(a.hash[:], b.hash[:]) < 0
}

func entryHash(e mempoolEntry) common.Hash       { return e.hash }
func expirationHash(e expirationEntry) common.Hash { return e.hash }

// MemPool holds transactions that are waiting to be included in a block.
//
// The transactions map is the source of truth. The nullifier index and the
// three queues are views over it and always hold exactly the same hashes.
// All mutation happens under mu, so each operation completes before the next
// begins.
type MemPool struct {
	mu sync.RWMutex

	cfg          *config.MempoolConfig
	chain        Blockchain
	consensus    Consensus
	feeEstimator FeeEstimator

	transactions      map[common.Hash]*types.Transaction
	nullifiers        map[common.Hash]common.Hash
	transactionsBytes uint64

	feeRateQueue    *Queue[common.Hash, mempoolEntry]
	evictionQueue   *Queue[common.Hash, mempoolEntry]
	expirationQueue *Queue[common.Hash, expirationEntry]

	recentlyEvicted *RecentlyEvictedCache
	head            *types.Header

	txFeed      event.FeedOf[NewTxsEvent]
	scope       event.SubscriptionScope
	unsubscribe []func()

	metrics *metrics.Metrics
	logger  log.Logger
}

// New creates a MemPool following chain. Call Start to begin reacting to
// chain events.
func New(cfg *config.MempoolConfig, chain Blockchain, consensus Consensus, estimator FeeEstimator) *MemPool {
	return &MemPool{
		cfg:             cfg,
		chain:           chain,
		consensus:       consensus,
		feeEstimator:    estimator,
		transactions:    make(map[common.Hash]*types.Transaction),
		nullifiers:      make(map[common.Hash]common.Hash),
		feeRateQueue:    NewQueue(feeRateBefore, entryHash),
		evictionQueue:   NewQueue(evictionBefore, entryHash),
		expirationQueue: NewQueue(expirationBefore, expirationHash),
		recentlyEvicted: NewRecentlyEvictedCache(cfg.RecentlyEvictedCacheSize),
		head:            chain.Head(),
		logger:          log.New("module", "mempool"),
	}
}

// SetMetrics attaches metrics instruments to the pool.
func (m *MemPool) SetMetrics(mt *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mt
	m.updateMetrics()
}

// Start initializes the fee estimator from chain history and subscribes to
// block connect and disconnect events. The estimator is always notified
// before the pool.
func (m *MemPool) Start(ctx context.Context) error {
	if err := m.feeEstimator.Init(ctx, m.chain); err != nil {
		return fmt.Errorf("init fee estimator: %w", err)
	}

	m.unsubscribe = append(m.unsubscribe,
		m.chain.OnConnectBlock(func(block *types.Block) {
			m.feeEstimator.OnConnectBlock(block, m)
			m.OnConnectBlock(block)
		}),
		m.chain.OnDisconnectBlock(func(ctx context.Context, block *types.Block) error {
			m.feeEstimator.OnDisconnectBlock(block)
			return m.OnDisconnectBlock(ctx, block)
		}),
	)

	m.logger.Info("Mempool started",
		"maxSizeBytes", m.cfg.MaxSizeBytes,
		"recentlyEvictedCacheSize", m.cfg.RecentlyEvictedCacheSize,
	)
	return nil
}

// Stop unsubscribes from chain events and closes event subscriptions.
func (m *MemPool) Stop() {
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
	m.unsubscribe = nil
	m.scope.Close()
	m.logger.Info("Mempool stopped")
}

// SubscribeNewTxsEvent registers ch to receive transactions accepted into the pool.
func (m *MemPool) SubscribeNewTxsEvent(ch chan<- NewTxsEvent) event.Subscription {
	return m.scope.Track(m.txFeed.Subscribe(ch))
}

// AcceptTransaction reports whether tx was admitted into the pool.
func (m *MemPool) AcceptTransaction(tx *types.Transaction) bool {
	return m.Accept(tx) == nil
}

// Accept admits an externally submitted transaction. A non-nil error is the
// reason the transaction was rejected.
func (m *MemPool) Accept(tx *types.Transaction) error {
	hash := tx.Hash()

	m.mu.Lock()
	if _, ok := m.transactions[hash]; ok {
		m.mu.Unlock()
		return ErrAlreadyKnown
	}

	sequence := m.chain.Head().Sequence
	if m.consensus.IsExpiredSequence(tx.Expiration(), sequence) {
		m.rejected()
		m.mu.Unlock()
		m.logger.Debug("Rejected expired transaction",
			"hash", hash,
			"expiration", tx.Expiration(),
			"sequence", sequence,
		)
		return ErrExpired
	}

	err := m.addTransaction(tx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Debug("Accepted transaction", "hash", hash, "fee", tx.Fee(), "size", tx.Size())
	m.txFeed.Send(NewTxsEvent{Txs: []*types.Transaction{tx}})
	return nil
}

// addTransaction inserts tx into the map, the nullifier index and all queues,
// then evicts until the pool is under budget. The caller must hold mu.
func (m *MemPool) addTransaction(tx *types.Transaction) error {
	hash := tx.Hash()
	if _, ok := m.transactions[hash]; ok {
		return ErrAlreadyKnown
	}

	// A conflicting transaction only gives way to a strictly higher fee.
	// Nothing is removed unless tx beats every conflict: a tx that beats one
	// owner but loses to another leaves the pool untouched, rather than
	// deleting the owners it beat before the losing comparison.
	var conflicts []*types.Transaction
	for _, nullifier := range tx.Nullifiers() {
		owner, ok := m.nullifiers[nullifier]
		if !ok || owner == hash {
			continue
		}
		existing, ok := m.transactions[owner]
		if !ok {
			m.fatal("Nullifier owner missing from pool", "nullifier", nullifier, "owner", owner)
		}
		if tx.Fee() <= existing.Fee() {
			m.rejected()
			m.logger.Debug("Rejected conflicting transaction",
				"hash", hash,
				"fee", tx.Fee(),
				"existing", owner,
				"existingFee", existing.Fee(),
				"nullifier", nullifier,
			)
			return ErrNullifierConflict
		}
		conflicts = append(conflicts, existing)
	}
	for _, existing := range conflicts {
		if m.deleteTransaction(existing.Hash()) {
			m.logger.Debug("Replaced conflicting transaction", "old", existing.Hash(), "new", hash)
		}
	}

	m.transactions[hash] = tx
	for _, nullifier := range tx.Nullifiers() {
		m.nullifiers[nullifier] = hash
	}
	entry := mempoolEntry{hash: hash, feeRate: fees.FeeRate(tx)}
	m.feeRateQueue.Add(entry)
	m.evictionQueue.Add(entry)
	m.expirationQueue.Add(expirationEntry{hash: hash, expiration: tx.Expiration()})
	m.transactionsBytes += tx.Size()

	if m.full() {
		m.evictTransactions()
	}
	m.updateMetrics()

	if _, ok := m.transactions[hash]; !ok {
		return ErrEvicted
	}
	return nil
}

// evictTransactions removes the lowest fee rate transactions until the pool
// is under its byte budget, or empty when the budget is zero. The caller must
// hold mu.
func (m *MemPool) evictTransactions() {
	sequence := m.chain.Head().Sequence
	evicted := 0

	for m.full() && len(m.transactions) > 0 {
		next, ok := m.evictionQueue.Poll()
		if !ok {
			m.fatal("Eviction queue empty while pool is full",
				"bytes", m.transactionsBytes,
				"count", len(m.transactions),
			)
		}
		if _, ok := m.transactions[next.hash]; !ok {
			m.fatal("Eviction candidate missing from pool", "hash", next.hash)
		}

		m.deleteTransaction(next.hash)
		m.recentlyEvicted.Add(next.hash, next.feeRate, sequence, m.sizeInBlocks())
		evicted++
	}

	if m.metrics != nil {
		m.metrics.MempoolEvicted.Inc(int64(evicted))
	}
	m.logger.Debug("Evicted transactions", "count", evicted, "bytes", m.transactionsBytes)
}

// deleteTransaction removes hash from every index and reports whether it was
// present. The caller must hold mu.
func (m *MemPool) deleteTransaction(hash common.Hash) bool {
	tx, ok := m.transactions[hash]
	if !ok {
		return false
	}
	delete(m.transactions, hash)

	for _, nullifier := range tx.Nullifiers() {
		if m.nullifiers[nullifier] == hash {
			delete(m.nullifiers, nullifier)
		}
	}
	m.feeRateQueue.Remove(hash)
	m.evictionQueue.Remove(hash)
	m.expirationQueue.Remove(hash)
	m.transactionsBytes -= tx.Size()

	m.updateMetrics()
	return true
}

// OnConnectBlock removes the block's transactions and every transaction that
// has expired at the new head.
func (m *MemPool) OnConnectBlock(block *types.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for _, tx := range block.Transactions {
		if m.deleteTransaction(tx.Hash()) {
			deleted++
		}
	}

	expired := 0
	for {
		next, ok := m.expirationQueue.Peek()
		if !ok || !m.consensus.IsExpiredSequence(next.expiration, block.Sequence()) {
			break
		}
		if !m.deleteTransaction(next.hash) {
			m.fatal("Expiring transaction missing from pool", "hash", next.hash)
		}
		expired++
	}
	if m.metrics != nil {
		m.metrics.MempoolExpired.Inc(int64(expired))
	}

	m.head = block.Header
	flushed := m.recentlyEvicted.Flush(block.Sequence())
	m.updateMetrics()

	m.logger.Debug("Processed connected block",
		"sequence", block.Sequence(),
		"hash", block.Hash(),
		"confirmed", deleted,
		"expired", expired,
		"forgotten", flushed,
		"count", len(m.transactions),
	)
}

// OnDisconnectBlock puts the block's non-miner's-fee transactions back into
// the pool and moves the pool head to the block's parent. Expiration is not
// rechecked since the chain only got shorter.
func (m *MemPool) OnDisconnectBlock(ctx context.Context, block *types.Block) error {
	m.mu.Lock()
	added := 0
	for _, tx := range block.Transactions {
		if tx.IsMinersFee() {
			continue
		}
		if m.addTransaction(tx) == nil {
			added++
		}
	}
	m.mu.Unlock()

	header, err := m.chain.GetHeader(ctx, block.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("fetch parent header %s: %w", block.Header.PrevHash.Hex(), err)
	}
	if header == nil {
		m.logger.Error("Parent of disconnected block not found, using chain head",
			"hash", block.Hash(),
			"parent", block.Header.PrevHash,
		)
		header = m.chain.Head()
	}

	m.mu.Lock()
	m.head = header
	m.mu.Unlock()

	m.logger.Debug("Processed disconnected block",
		"sequence", block.Sequence(),
		"hash", block.Hash(),
		"readded", added,
	)
	return nil
}

// Iterator walks a snapshot of the pool in fee rate order. Transactions
// removed from the pool after the snapshot are skipped.
type Iterator struct {
	pool  *MemPool
	queue *Queue[common.Hash, mempoolEntry]
	tx    *types.Transaction
}

// OrderedTransactions returns an iterator over the pooled transactions,
// highest fee rate first and ties by ascending hash.
func (m *MemPool) OrderedTransactions() *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Iterator{pool: m, queue: m.feeRateQueue.Clone()}
}

// Next advances to the next transaction still in the pool.
func (it *Iterator) Next() bool {
	for {
		entry, ok := it.queue.Poll()
		if !ok {
			it.tx = nil
			return false
		}
		if tx := it.pool.Get(entry.hash); tx != nil {
			it.tx = tx
			return true
		}
	}
}

// Transaction returns the current transaction.
func (it *Iterator) Transaction() *types.Transaction {
	return it.tx
}

// Count returns the number of pooled transactions.
func (m *MemPool) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

// SizeBytes returns the total size of pooled transactions.
func (m *MemPool) SizeBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsBytes
}

// MaxSizeBytes returns the pool byte budget.
func (m *MemPool) MaxSizeBytes() uint64 {
	return m.cfg.MaxSizeBytes
}

// Exists reports whether hash is pooled.
func (m *MemPool) Exists(hash common.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transactions[hash]
	return ok
}

// Get returns the pooled transaction with the given hash, or nil.
func (m *MemPool) Get(hash common.Hash) *types.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactions[hash]
}

// Full reports whether the pool has reached its byte budget.
func (m *MemPool) Full() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.full()
}

func (m *MemPool) full() bool {
	return m.transactionsBytes >= m.cfg.MaxSizeBytes
}

// RecentlyEvicted reports whether hash was evicted and not yet forgotten.
func (m *MemPool) RecentlyEvicted(hash common.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recentlyEvicted.Has(hash)
}

// RecentlyEvictedEntry returns the eviction record for hash.
func (m *MemPool) RecentlyEvictedEntry(hash common.Hash) (EvictedEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recentlyEvicted.Get(hash)
}

// SizeInBlocks returns how many full blocks the pooled bytes would fill.
func (m *MemPool) SizeInBlocks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeInBlocks()
}

func (m *MemPool) sizeInBlocks() uint64 {
	maxBlock := m.consensus.MaxBlockSizeBytes()
	if maxBlock == 0 {
		return 0
	}
	return m.transactionsBytes / maxBlock
}

// Status is a consistent snapshot of the pool counters.
type Status struct {
	Count           int
	SizeBytes       uint64
	MaxSizeBytes    uint64
	Full            bool
	SizeInBlocks    uint64
	RecentlyEvicted int
	Head            *types.Header
}

// Status returns the pool counters read under a single lock.
func (m *MemPool) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Count:           len(m.transactions),
		SizeBytes:       m.transactionsBytes,
		MaxSizeBytes:    m.MaxSizeBytes(),
		Full:            m.full(),
		SizeInBlocks:    m.sizeInBlocks(),
		RecentlyEvicted: m.recentlyEvicted.Len(),
		Head:            m.head,
	}
}

// Head returns the header the pool last synchronized with.
func (m *MemPool) Head() *types.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head
}

// FeeEstimator returns the estimator the pool notifies of chain changes.
func (m *MemPool) FeeEstimator() FeeEstimator {
	return m.feeEstimator
}

// NullifierOwner returns the hash of the pooled transaction spending nullifier.
func (m *MemPool) NullifierOwner(nullifier common.Hash) (common.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.nullifiers[nullifier]
	return owner, ok
}

func (m *MemPool) rejected() {
	if m.metrics != nil {
		m.metrics.MempoolRejected.Inc(1)
	}
}

func (m *MemPool) updateMetrics() {
	if m.metrics == nil {
		return
	}
	m.metrics.MempoolSize.Update(int64(len(m.transactions)))
	m.metrics.MempoolBytes.Update(int64(m.transactionsBytes))
	m.metrics.MempoolRecentlyEvicted.Update(int64(m.recentlyEvicted.Len()))
}

// fatal reports a broken pool invariant. Continuing would corrupt the pool
// further, so it panics.
func (m *MemPool) fatal(msg string, ctx ...any) {
	m.logger.Error(msg, ctx...)
	panic(fmt.Sprintf("mempool: %s", msg))
}
