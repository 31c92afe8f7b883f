package chain

import "errors"

var (
	// ErrNotExtendingHead is returned when a block's parent is not the current head.
	ErrNotExtendingHead = errors.New("block does not extend the head")

	// ErrInvalidSequence is returned when a block's sequence is not head + 1.
	ErrInvalidSequence = errors.New("invalid block sequence")

	// ErrInvalidTxRoot is returned when the header's transaction root does not
	// match the block's transactions.
	ErrInvalidTxRoot = errors.New("invalid transaction root")

	// ErrBlockTooLarge is returned when a block exceeds the consensus size limit.
	ErrBlockTooLarge = errors.New("block exceeds maximum size")

	// ErrDisconnectGenesis is returned when trying to roll back past genesis.
	ErrDisconnectGenesis = errors.New("cannot disconnect genesis block")

	// ErrGenesisMismatch is returned when the stored chain was built on a different genesis.
	ErrGenesisMismatch = errors.New("stored genesis does not match")

	// ErrMissingBlock is returned when a block referenced by the stored chain is absent.
	ErrMissingBlock = errors.New("missing block")
)
