package types

import (
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Spend consumes a previously created note. The nullifier is unique per
// consumed note, so two transactions carrying the same nullifier conflict.
type Spend struct {
	Nullifier  common.Hash `json:"nullifier"`
	Commitment common.Hash `json:"commitment"`
}

// Note is an output created by a transaction.
type Note struct {
	Owner common.Address `json:"owner"`
	Value uint64         `json:"value"`
	Memo  []byte         `json:"memo"`
}

// TxData is the consensus payload of a transaction.
type TxData struct {
	Fee        uint64
	Expiration uint32 // 0 never expires
	Spends     []Spend
	Notes      []Note
	Signature  []byte
}

func (d *TxData) copy() TxData {
	cpy := TxData{
		Fee:        d.Fee,
		Expiration: d.Expiration,
		Signature:  common.CopyBytes(d.Signature),
	}
	if len(d.Spends) > 0 {
		cpy.Spends = make([]Spend, len(d.Spends))
		copy(cpy.Spends, d.Spends)
	}
	if len(d.Notes) > 0 {
		cpy.Notes = make([]Note, len(d.Notes))
		for i, n := range d.Notes {
			cpy.Notes[i] = Note{Owner: n.Owner, Value: n.Value, Memo: common.CopyBytes(n.Memo)}
		}
	}
	return cpy
}

// Transaction is an immutable transaction. Hash and size are computed
// lazily from the RLP encoding and cached.
type Transaction struct {
	inner TxData

	hash atomic.Pointer[common.Hash]
	size atomic.Uint64
}

// NewTransaction creates a transaction from a deep copy of data.
func NewTransaction(data TxData) *Transaction {
	return &Transaction{inner: data.copy()}
}

// Fee returns the absolute fee paid by the transaction.
func (tx *Transaction) Fee() uint64 { return tx.inner.Fee }

// Expiration returns the sequence at which the transaction stops being valid.
func (tx *Transaction) Expiration() uint32 { return tx.inner.Expiration }

// Spends returns a copy of the transaction's spends.
func (tx *Transaction) Spends() []Spend {
	return append([]Spend(nil), tx.inner.Spends...)
}

// Notes returns a copy of the transaction's outputs.
func (tx *Transaction) Notes() []Note {
	return tx.inner.copy().Notes
}

// Nullifiers returns the nullifier of every spend, in order.
func (tx *Transaction) Nullifiers() []common.Hash {
	out := make([]common.Hash, len(tx.inner.Spends))
	for i, s := range tx.inner.Spends {
		out[i] = s.Nullifier
	}
	return out
}

// IsMinersFee reports whether the transaction only credits value, which is
// the shape of the block reward transaction.
func (tx *Transaction) IsMinersFee() bool {
	return len(tx.inner.Spends) == 0
}

// Hash returns the Keccak-256 hash of the RLP encoding.
func (tx *Transaction) Hash() common.Hash {
	if h := tx.hash.Load(); h != nil {
		return *h
	}
	h := rlpHash(&tx.inner)
	tx.hash.Store(&h)
	return h
}

// Size returns the length of the RLP encoding in bytes.
func (tx *Transaction) Size() uint64 {
	if size := tx.size.Load(); size > 0 {
		return size
	}
	var c writeCounter
	rlp.Encode(&c, &tx.inner)
	tx.size.Store(uint64(c))
	return uint64(c)
}

// EncodeRLP implements rlp.Encoder.
func (tx *Transaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &tx.inner)
}

// DecodeRLP implements rlp.Decoder.
func (tx *Transaction) DecodeRLP(s *rlp.Stream) error {
	var inner TxData
	if err := s.Decode(&inner); err != nil {
		return err
	}
	tx.inner = inner
	tx.hash.Store(nil)
	tx.size.Store(0)
	return nil
}

// MarshalBinary returns the canonical encoding of the transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// UnmarshalBinary decodes the canonical encoding of a transaction.
func (tx *Transaction) UnmarshalBinary(b []byte) error {
	return rlp.DecodeBytes(b, tx)
}

// writeCounter counts the bytes written to it.
type writeCounter uint64

func (c *writeCounter) Write(b []byte) (int, error) {
	*c += writeCounter(len(b))
	return len(b), nil
}

func rlpHash(x interface{}) (h common.Hash) {
	sha := crypto.NewKeccakState()
	rlp.Encode(sha, x)
	sha.Read(h[:])
	return h
}
