package mempool

import "sync/atomic"

// PoolError is the taxonomy of failures an engine operation can signal.
// The zero value is OK.
type PoolError int32

const (
	// OK means the operation completed without error.
	OK PoolError = iota
	// NullPtr means a required argument was nil.
	NullPtr
	// InvalidPtr means a payload pointer is out of range, misaligned,
	// or addresses the interior of a block.
	InvalidPtr
	// InvalidArgs means a creation parameter was zero.
	InvalidArgs
	// AllocFailed means the system allocator returned an error, the
	// pool is full, or no free block satisfies the request.
	AllocFailed
	// BlockDamaged means a traversed header's leading canary is
	// neither FREE nor USED.
	BlockDamaged
)

var errorNames = [...]string{
	OK:           "POOL_OK",
	NullPtr:      "POOL_NULL_PTR",
	InvalidPtr:   "POOL_INVALID_PTR",
	InvalidArgs:  "POOL_INVALID_ARGS",
	AllocFailed:  "POOL_ALLOC_FAILED",
	BlockDamaged: "POOL_BLOCK_DAMAGED",
}

// Error implements the error interface, returning the symbolic name.
func (e PoolError) Error() string {
	if int(e) < 0 || int(e) >= len(errorNames) {
		return "POOL_UNKNOWN_ERROR"
	}
	return errorNames[e]
}

// lastError is the process-wide last-error slot every engine operation
// writes on entry and overwrites on failure. It is deliberately
// sequential: concurrent use across engines from multiple goroutines
// is the caller's responsibility.
var lastError atomic.Int32

func setLastError(e PoolError) {
	lastError.Store(int32(e))
}

// LastError returns the error set by the most recently completed
// engine operation, process-wide.
func LastError() PoolError {
	return PoolError(lastError.Load())
}

// ErrorName returns the symbolic name of e, e.g. "POOL_INVALID_PTR".
func ErrorName(e PoolError) string {
	return e.Error()
}
