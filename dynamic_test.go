package mempool

import (
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicPoolCanaryCorruptionRecovery(t *testing.T) {
	// Freeing a block whose leading canary got clobbered should recover it.
	p, err := NewDynamicPool(1024)
	require.NoError(t, err)
	defer p.Destroy()

	ptr, err := p.Alloc(32)
	require.NoError(t, err)

	headerAddr := uintptr(ptr) - headerSize
	*(*uint32)(unsafe.Pointer(headerAddr)) = 0xDEADBEEF

	p.Free(ptr)
	assert.Equal(t, OK, LastError())
	assert.Equal(t, uint32(canaryFree), headerAt(headerAddr).canary)
}

func TestDynamicPoolCoalesceScenario(t *testing.T) {
	// Coalescing adjacent free blocks should satisfy an alloc that
	// fragmentation alone defeats, and AllocSafe should coalesce on its own.
	p, err := NewDynamicPool(256)
	require.NoError(t, err)
	defer p.Destroy()

	sizes := []int{32, 32, 32, 32, 32, 16}
	ptrs := make([]unsafe.Pointer, len(sizes))
	for i, s := range sizes {
		ptr, err := p.Alloc(s)
		require.NoErrorf(t, err, "alloc %d of size %d", i, s)
		ptrs[i] = ptr
	}

	p.Free(ptrs[2])
	p.Free(ptrs[3])
	p.Free(ptrs[4])

	_, err = p.Alloc(128)
	assert.Equal(t, AllocFailed, err)

	p.Coalesce()

	_, err = p.Alloc(128)
	require.NoError(t, err)

	p.Free(ptrs[0])
	p.Free(ptrs[1])

	_, err = p.Alloc(64)
	assert.Equal(t, AllocFailed, err)

	ptr, err := p.AllocSafe(64)
	require.NoError(t, err)
	require.NotNil(t, ptr)
}

func TestDynamicPoolAlignment(t *testing.T) {
	// Payload pointers are always eight-byte aligned; off-by-one pointers
	// into either neighbor must be rejected.
	p, err := NewDynamicPool(1024)
	require.NoError(t, err)
	defer p.Destroy()

	for _, size := range []int{64, 25, 15} {
		ptr, err := p.Alloc(size)
		require.NoError(t, err)
		assert.Zero(t, uintptr(ptr)%dynAlignment)

		off1 := unsafe.Pointer(uintptr(ptr) + 1)
		p.Free(off1)
		assert.Equal(t, InvalidPtr, LastError())

		offMinus1 := unsafe.Pointer(uintptr(ptr) - 1)
		p.Free(offMinus1)
		assert.Equal(t, InvalidPtr, LastError())
	}
}

func TestDynamicPoolBytesView(t *testing.T) {
	p, err := NewDynamicPool(512)
	require.NoError(t, err)
	defer p.Destroy()

	ptr, err := p.Alloc(20)
	require.NoError(t, err)

	view := p.Bytes(ptr)
	require.GreaterOrEqual(t, len(view), 20)
	view[0] = 0xCD
	assert.Equal(t, byte(0xCD), *(*byte)(ptr))

	p.Free(ptr)
	assert.Nil(t, p.Bytes(ptr))
	assert.Nil(t, p.Bytes(nil))
}

func TestDynamicPoolInvalidFree(t *testing.T) {
	p, err := NewDynamicPool(512)
	require.NoError(t, err)
	defer p.Destroy()

	p.Free(nil)
	assert.Equal(t, NullPtr, LastError())

	var stackVar int64
	p.Free(unsafe.Pointer(&stackVar))
	assert.Equal(t, InvalidPtr, LastError())
}

func TestDynamicPoolRecoveryAmbiguityTwoDamagedHeaders(t *testing.T) {
	// Two adjacent damaged headers defeat the heuristic scan: recovery
	// must report BlockDamaged rather than silently reconstruct across them.
	p, err := NewDynamicPool(1024)
	require.NoError(t, err)
	defer p.Destroy()

	a, err := p.Alloc(32)
	require.NoError(t, err)
	b, err := p.Alloc(32)
	require.NoError(t, err)

	headerA := uintptr(a) - headerSize
	headerB := uintptr(b) - headerSize
	*(*uint32)(unsafe.Pointer(headerA)) = 0xDEADBEEF
	*(*uint32)(unsafe.Pointer(headerB)) = 0xDEADBEEF

	p.restoreBlock(a)
	assert.Equal(t, BlockDamaged, LastError())
}

// TestDynamicPoolChainIntegrity walks the next-chain after a sequence
// of allocs and frees and asserts it visits every live header exactly
// once and terminates in null.
func TestDynamicPoolChainIntegrity(t *testing.T) {
	p, err := NewDynamicPool(2048)
	require.NoError(t, err)
	defer p.Destroy()

	rng, err := mathutil.NewFC32(0, 1<<20, true)
	require.NoError(t, err)

	var live []unsafe.Pointer
	for round := 0; round < 500; round++ {
		if rng.Next()%2 == 0 || len(live) == 0 {
			size := 8 + int(rng.Next())%64
			ptr, err := p.AllocSafe(size)
			if err == nil {
				live = append(live, ptr)
			}
		} else {
			idx := int(rng.Next()) % len(live)
			p.Free(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		}
	}

	seen := map[uintptr]bool{}
	addr := p.base
	steps := 0
	for addr != 0 {
		require.False(t, seen[addr], "chain revisits header %#x", addr)
		seen[addr] = true
		h := headerAt(addr)
		addr = h.next
		steps++
		require.Less(t, steps, 100000, "chain walk did not terminate")
	}
	for _, ptr := range live {
		assert.True(t, seen[uintptr(ptr)-headerSize], "live header %#x not reached from base", uintptr(ptr)-headerSize)
	}
}

// TestDynamicPoolConservation checks that, on a freshly created pool,
// the headers plus the payload sizes of every block in the chain
// account for the whole capacity.
func TestDynamicPoolConservation(t *testing.T) {
	p, err := NewDynamicPool(2048)
	require.NoError(t, err)
	defer p.Destroy()

	addr := p.base
	var total uintptr
	for addr != 0 {
		h := headerAt(addr)
		total += headerSize + uintptr(h.size)
		addr = h.next
	}
	assert.Equal(t, p.capacity, total)
}

func TestDynamicPoolCoalesceIdempotent(t *testing.T) {
	p, err := NewDynamicPool(512)
	require.NoError(t, err)
	defer p.Destroy()

	a, err := p.Alloc(32)
	require.NoError(t, err)
	b, err := p.Alloc(32)
	require.NoError(t, err)
	_ = b
	p.Free(a)

	p.Coalesce()
	snapshot := dumpChain(p)

	p.Coalesce()
	assert.Equal(t, snapshot, dumpChain(p))
}

func TestDynamicPoolAllocFreeCoalesceYieldsOneBlock(t *testing.T) {
	p, err := NewDynamicPool(512)
	require.NoError(t, err)
	defer p.Destroy()

	var ptrs []unsafe.Pointer
	for i := 0; i < 5; i++ {
		ptr, err := p.Alloc(16)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		p.Free(ptr)
	}
	p.Coalesce()

	require.Equal(t, p.base, p.base)
	h := headerAt(p.base)
	assert.Equal(t, uint32(canaryFree), h.canary)
	assert.Equal(t, uintptr(0), h.next)
	assert.Equal(t, uint32(p.capacity-headerSize), h.size)
}

func dumpChain(p *DynamicPool) []uint32 {
	var sizes []uint32
	addr := p.base
	for addr != 0 {
		h := headerAt(addr)
		sizes = append(sizes, h.canary, h.size)
		addr = h.next
	}
	return sizes
}
