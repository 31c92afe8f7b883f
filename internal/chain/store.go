package chain

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/insoblok/inso-node/pkg/types"
)

// Key prefixes for the chain database.
var (
	prefixBlock     = []byte("b") // b + hash -> Block (RLP)
	prefixCanonical = []byte("c") // c + sequence (big-endian uint32) -> hash
	keyHeadBlock    = []byte("head-block")
)

func blockKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash.Bytes()...)
}

func canonicalKey(sequence uint32) []byte {
	key := append([]byte{}, prefixCanonical...)
	return binary.BigEndian.AppendUint32(key, sequence)
}

// OpenDatabase opens the Pebble database under dataDir, or an in-memory
// database when dataDir is empty.
func OpenDatabase(dataDir string) (ethdb.Database, error) {
	logger := log.New("module", "chaindb")

	if dataDir == "" {
		logger.Info("Using in-memory chain database")
		return rawdb.NewMemoryDatabase(), nil
	}

	path := filepath.Join(dataDir, "chaindata")
	db, err := rawdb.NewPebbleDBDatabase(path, 256, 256, "", false, false)
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	logger.Info("Chain database opened", "path", path)
	return db, nil
}

// Store persists blocks and the canonical chain index.
type Store struct {
	db     ethdb.Database
	logger log.Logger
}

// NewStore wraps an ethdb.Database with chain accessors.
func NewStore(db ethdb.Database) *Store {
	return &Store{
		db:     db,
		logger: log.New("module", "chaindb"),
	}
}

// WriteBlock persists block and makes it the canonical head.
func (s *Store) WriteBlock(block *types.Block) error {
	data, err := rlp.EncodeToBytes(block)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", block.Hash().Hex(), err)
	}

	hash := block.Hash()
	batch := s.db.NewBatch()
	if err := batch.Put(blockKey(hash), data); err != nil {
		return err
	}
	if err := batch.Put(canonicalKey(block.Sequence()), hash.Bytes()); err != nil {
		return err
	}
	if err := batch.Put(keyHeadBlock, hash.Bytes()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	s.logger.Trace("Block written", "sequence", block.Sequence(), "hash", hash, "size", len(data))
	return nil
}

// ReadBlock returns the block with the given hash, or nil if not found.
func (s *Store) ReadBlock(hash common.Hash) (*types.Block, error) {
	key := blockKey(hash)
	if ok, err := s.db.Has(key); err != nil || !ok {
		return nil, err
	}
	data, err := s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", hash.Hex(), err)
	}

	block := new(types.Block)
	if err := rlp.DecodeBytes(data, block); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", hash.Hex(), err)
	}
	return block, nil
}

// ReadHeadHash returns the canonical head hash, or the zero hash for an
// empty database.
func (s *Store) ReadHeadHash() (common.Hash, error) {
	return s.readHash(keyHeadBlock)
}

// ReadCanonicalHash returns the canonical block hash at sequence, or the zero
// hash if none.
func (s *Store) ReadCanonicalHash(sequence uint32) (common.Hash, error) {
	return s.readHash(canonicalKey(sequence))
}

// RewindHead drops the canonical entry at sequence and makes parent the
// head. Block bodies are kept so a reorg can reconnect them.
func (s *Store) RewindHead(sequence uint32, parent common.Hash) error {
	batch := s.db.NewBatch()
	if err := batch.Delete(canonicalKey(sequence)); err != nil {
		return err
	}
	if err := batch.Put(keyHeadBlock, parent.Bytes()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) readHash(key []byte) (common.Hash, error) {
	if ok, err := s.db.Has(key); err != nil || !ok {
		return common.Hash{}, err
	}
	data, err := s.db.Get(key)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}
