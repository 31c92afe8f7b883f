package mempool

import "errors"

// Rejection reasons returned by Accept. None of them indicates a failure of
// the pool itself.
var (
	// ErrAlreadyKnown is returned when adding a transaction that already exists in the pool.
	ErrAlreadyKnown = errors.New("transaction already known")

	// ErrExpired is returned when the transaction expires at or before the current head.
	ErrExpired = errors.New("transaction expired")

	// ErrNullifierConflict is returned when a pooled transaction spending the same
	// nullifier pays an equal or higher fee.
	ErrNullifierConflict = errors.New("nullifier already spent by a higher fee transaction")

	// ErrEvicted is returned when the transaction was admitted and then
	// immediately evicted to bring the pool back under its byte budget.
	ErrEvicted = errors.New("transaction evicted by pool size limit")
)
