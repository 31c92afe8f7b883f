package chain

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/pkg/types"
)

// Genesis describes the first block of the chain.
type Genesis struct {
	Timestamp math.HexOrDecimal64 `json:"timestamp"`
	Miner     common.Address      `json:"miner"`
	Alloc     []GenesisAccount    `json:"alloc"`
}

// GenesisAccount is a note minted in the genesis block.
type GenesisAccount struct {
	Owner common.Address      `json:"owner"`
	Value math.HexOrDecimal64 `json:"value"`
	Memo  hexutil.Bytes       `json:"memo,omitempty"`
}

// LoadGenesis reads and parses a genesis.json file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}

	var gen Genesis
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &gen, nil
}

// DefaultGenesis returns the devnet genesis.
func DefaultGenesis() *Genesis {
	return &Genesis{
		Timestamp: 1_700_000_000,
		Alloc: []GenesisAccount{
			{Owner: common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), Value: 42_000_000_00000000},
			{Owner: common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), Value: 42_000_000_00000000},
			{Owner: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"), Value: 42_000_000_00000000},
		},
	}
}

// ToBlock builds the genesis block. The allocations are minted by a single
// miner's fee transaction.
func (g *Genesis) ToBlock(params consensus.Parameters) *types.Block {
	var txs []*types.Transaction
	if len(g.Alloc) > 0 {
		notes := make([]types.Note, len(g.Alloc))
		for i, acc := range g.Alloc {
			notes[i] = types.Note{Owner: acc.Owner, Value: uint64(acc.Value), Memo: acc.Memo}
		}
		txs = append(txs, types.NewTransaction(types.TxData{Notes: notes}))
	}

	header := &types.Header{
		Sequence:  params.GenesisSequence,
		Timestamp: uint64(g.Timestamp),
		Miner:     g.Miner,
	}
	return types.NewBlock(header, txs)
}
