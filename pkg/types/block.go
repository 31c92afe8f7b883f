package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Header is a block header. Sequence is the block height, starting at the
// genesis sequence.
type Header struct {
	Sequence  uint32         `json:"sequence"`
	PrevHash  common.Hash    `json:"prevHash"`
	TxRoot    common.Hash    `json:"txRoot"`
	Timestamp uint64         `json:"timestamp"`
	Miner     common.Address `json:"miner"`
}

// Hash returns the Keccak-256 hash of the header's RLP encoding.
func (h *Header) Hash() common.Hash {
	return rlpHash(h)
}

// Copy returns a copy of the header.
func (h *Header) Copy() *Header {
	cpy := *h
	return &cpy
}

// Block is a header plus its ordered transactions. The first transaction of
// a produced block is the miner's fee.
type Block struct {
	Header       *Header
	Transactions []*Transaction
}

// NewBlock creates a block, filling in the transaction root of the header.
func NewBlock(header *Header, txs []*Transaction) *Block {
	h := header.Copy()
	h.TxRoot = DeriveTxRoot(txs)
	return &Block{
		Header:       h,
		Transactions: append([]*Transaction(nil), txs...),
	}
}

// Hash returns the header hash.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// Sequence returns the header sequence.
func (b *Block) Sequence() uint32 { return b.Header.Sequence }

// Size returns the RLP encoded size of the block in bytes.
func (b *Block) Size() uint64 {
	var c writeCounter
	rlp.Encode(&c, b)
	return uint64(c)
}

// DeriveTxRoot hashes the ordered transaction hashes.
func DeriveTxRoot(txs []*Transaction) common.Hash {
	var root common.Hash
	sha := crypto.NewKeccakState()
	for _, tx := range txs {
		sha.Write(tx.Hash().Bytes())
	}
	sha.Read(root[:])
	return root
}
