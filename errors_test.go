package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolErrorNames(t *testing.T) {
	cases := []struct {
		err  PoolError
		name string
	}{
		{OK, "POOL_OK"},
		{NullPtr, "POOL_NULL_PTR"},
		{InvalidPtr, "POOL_INVALID_PTR"},
		{InvalidArgs, "POOL_INVALID_ARGS"},
		{AllocFailed, "POOL_ALLOC_FAILED"},
		{BlockDamaged, "POOL_BLOCK_DAMAGED"},
	}
	for _, c := range cases {
		assert.Equal(t, c.name, c.err.Error())
		assert.Equal(t, c.name, ErrorName(c.err))
	}
}

func TestPoolErrorUnknown(t *testing.T) {
	assert.Equal(t, "POOL_UNKNOWN_ERROR", PoolError(999).Error())
	assert.Equal(t, "POOL_UNKNOWN_ERROR", PoolError(-1).Error())
}

func TestLastErrorSlotIsProcessWide(t *testing.T) {
	setLastError(InvalidArgs)
	assert.Equal(t, InvalidArgs, LastError())

	setLastError(OK)
	assert.Equal(t, OK, LastError())
}
