package mempool

import "unsafe"

// blockAlignment is the fixed alignment the block engine guarantees
// for every payload pointer it returns. There is no aligned-alloc
// override.
const blockAlignment = 8

// BlockPool is a fixed-block engine: an arena of equal-size slots with
// O(1) allocation using a one-slot free hint.
//
// Each slot is laid out [flag byte | padding | payload], flag 0 free,
// 1 busy. The pointer returned to callers addresses the payload;
// subtracting payloadOffset recovers the flag byte. BlockPool is
// single-owner: no internal locking.
type BlockPool struct {
	slab     []byte // the contiguous backing region (the "slab")
	slabBase uintptr

	capacity int // number of slots
	stride   int // bytes per slot, including flag byte and padding

	payloadOffset uintptr // offset of payload within a slot
	payloadSize   int     // bytes requested per slot at creation

	live int // number of slots whose flag byte is 1

	lastFreed unsafe.Pointer // address of flag byte of last-freed slot, or nil
}

// NewBlockPool creates a pool of capacity slots, each able to hold
// payloadSize bytes. Both arguments must be non-zero.
func NewBlockPool(capacity, payloadSize int) (*BlockPool, error) {
	setLastError(OK)

	if capacity <= 0 || payloadSize <= 0 {
		setLastError(InvalidArgs)
		logWarnf("block pool not created: invalid arguments capacity=%d payload_size=%d", capacity, payloadSize)
		return nil, InvalidArgs
	}

	// The added eight bytes house the flag byte and pad the payload to
	// an eight-byte boundary.
	stride := int(roundUp(uintptr(payloadSize), blockAlignment)) + blockAlignment

	slab, err := newRawRegion(capacity * stride)
	if err != nil {
		setLastError(AllocFailed)
		logErrorf("block pool not created: the system cannot allocate %d bytes", capacity*stride)
		return nil, AllocFailed
	}
	for i := range slab {
		slab[i] = 0
	}

	p := &BlockPool{
		slab:          slab,
		slabBase:      uintptr(unsafe.Pointer(&slab[0])),
		capacity:      capacity,
		stride:        stride,
		payloadOffset: blockAlignment,
		payloadSize:   payloadSize,
	}
	logInfof("block pool created: capacity=%d stride=%d base=%#x", capacity, stride, p.slabBase)
	return p, nil
}

func (p *BlockPool) slotFlag(i int) *byte {
	return &p.slab[i*p.stride]
}

// Alloc requests one slot from the pool. It returns a pointer to the
// slot's payload, which is always aligned to eight bytes.
func (p *BlockPool) Alloc() (unsafe.Pointer, error) {
	setLastError(OK)

	if p.live == p.capacity {
		setLastError(AllocFailed)
		logErrorf("block pool alloc failed: pool at capacity %d", p.capacity)
		return nil, AllocFailed
	}

	if p.lastFreed != nil {
		flag := (*byte)(p.lastFreed)
		if *flag == 0 {
			*flag = 1
			p.live++
			payload := unsafe.Pointer(uintptr(p.lastFreed) + p.payloadOffset)
			p.lastFreed = nil
			logDebugf("block pool alloc (hint hit): %#x", payload)
			return payload, nil
		}
	}

	for i := 0; i < p.capacity; i++ {
		flag := p.slotFlag(i)
		if *flag == 0 {
			*flag = 1
			p.live++
			payload := unsafe.Pointer(uintptr(unsafe.Pointer(flag)) + p.payloadOffset)
			logDebugf("block pool alloc (scan): %#x", payload)
			return payload, nil
		}
	}

	setLastError(AllocFailed)
	logErrorf("block pool alloc failed: no free slot found despite live=%d < capacity=%d", p.live, p.capacity)
	return nil, AllocFailed
}

// contains reports whether memblock is the payload address of some
// slot in the pool. It computes the offset in the corrected order
// (memblock - slabBase); computing it the other way around only
// happens to work when the pool's address is numerically below the
// pointer's.
func (p *BlockPool) contains(memblock unsafe.Pointer) bool {
	addr := uintptr(memblock)
	flagAddr := addr - p.payloadOffset
	end := p.slabBase + uintptr(p.capacity*p.stride)
	if flagAddr < p.slabBase || flagAddr >= end {
		return false
	}
	return (flagAddr-p.slabBase)%uintptr(p.stride) == 0
}

// Free releases memblock, a payload pointer previously returned by
// Alloc, back to the pool. Double-free is tolerated: writing 0 over an
// already-free flag is a no-op save for the live count, which may
// underflow.
func (p *BlockPool) Free(memblock unsafe.Pointer) {
	setLastError(OK)

	if memblock == nil {
		setLastError(NullPtr)
		logWarnf("block pool free: nil pointer passed")
		return
	}

	if !p.contains(memblock) {
		setLastError(InvalidPtr)
		logWarnf("block pool free: pointer %#x not in pool", memblock)
		return
	}

	flagAddr := uintptr(memblock) - p.payloadOffset
	flag := (*byte)(unsafe.Pointer(flagAddr))
	*flag = 0
	p.lastFreed = unsafe.Pointer(flagAddr)
	p.live--
	logDebugf("block pool free: %#x", memblock)
}

// Clear resets every slot to free and drops the live count to zero.
func (p *BlockPool) Clear() {
	setLastError(OK)
	for i := 0; i < p.capacity; i++ {
		*p.slotFlag(i) = 0
	}
	p.live = 0
	p.lastFreed = nil
	logInfof("block pool cleared: base=%#x", p.slabBase)
}

// Destroy releases the pool's backing region. The pool must not be
// used afterwards.
func (p *BlockPool) Destroy() error {
	setLastError(OK)
	logInfof("block pool destroyed: base=%#x", p.slabBase)
	return releaseRawRegion(p.slab)
}

// Size returns the number of currently occupied slots.
func (p *BlockPool) Size() int { return p.live }

// Capacity returns the total number of slots.
func (p *BlockPool) Capacity() int { return p.capacity }

// Bytes returns a safe []byte view of payload, a pointer previously
// returned by Alloc, bounded to the slot's payload size. It does not
// change ownership or aliasing rules: the returned slice borrows the
// same memory as payload and must not outlive the pool.
func (p *BlockPool) Bytes(payload unsafe.Pointer) []byte {
	if payload == nil || !p.contains(payload) {
		return nil
	}
	return unsafe.Slice((*byte)(payload), p.payloadSize)
}
