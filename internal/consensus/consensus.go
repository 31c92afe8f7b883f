package consensus

// Parameters holds the consensus constants the node relies on.
type Parameters struct {
	// MaxBlockSizeBytes bounds the encoded size of a block.
	MaxBlockSizeBytes uint64 `yaml:"max_block_size_bytes"`

	// GenesisSequence is the sequence of the genesis block.
	GenesisSequence uint32 `yaml:"genesis_sequence"`
}

// DefaultParameters returns the mainnet parameters.
func DefaultParameters() Parameters {
	return Parameters{
		MaxBlockSizeBytes: 524288,
		GenesisSequence:   1,
	}
}

// Consensus exposes the consensus rules used outside of block validation.
type Consensus struct {
	params Parameters
}

// New creates a Consensus for the given parameters.
func New(params Parameters) *Consensus {
	return &Consensus{params: params}
}

// Parameters returns the consensus parameters.
func (c *Consensus) Parameters() Parameters { return c.params }

// MaxBlockSizeBytes returns the block size limit.
func (c *Consensus) MaxBlockSizeBytes() uint64 { return c.params.MaxBlockSizeBytes }

// IsExpiredSequence reports whether a transaction with the given expiration
// can no longer be included on top of a chain at sequence.
func (c *Consensus) IsExpiredSequence(expiration, sequence uint32) bool {
	return IsExpiredSequence(expiration, sequence)
}

// IsExpiredSequence reports whether expiration has been reached at sequence.
// An expiration of 0 never expires.
func IsExpiredSequence(expiration, sequence uint32) bool {
	return expiration != 0 && expiration <= sequence
}
