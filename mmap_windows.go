// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.
// Modifications (c) for the memory-pool raw-region layer.

package mempool

import (
	"errors"
	"os"
	"reflect"
	"syscall"
	"unsafe"
)

// handleMap lets releaseRawRegion recover the file-mapping handle from
// the address returned by newRawRegion. Windows has no anonymous-mmap
// syscall of its own; a mapping handle backed by the page file stands
// in for one, which is why acquiring a region takes the two calls
// mapPageFileView wraps below.
var handleMap = map[uintptr]syscall.Handle{}

// mapPageFileView backs size bytes of the system page file and maps a
// read/write view of it into this process, returning the handle (kept
// open for releaseRawRegion) and the view's base address.
func mapPageFileView(size int) (syscall.Handle, uintptr, error) {
	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, errno := syscall.CreateFileMapping(syscall.Handle(^uintptr(0)), nil, syscall.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return 0, 0, os.NewSyscallError("CreateFileMapping", errno)
	}

	addr, errno := syscall.MapViewOfFile(h, syscall.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if addr == 0 {
		syscall.CloseHandle(h)
		return 0, 0, os.NewSyscallError("MapViewOfFile", errno)
	}
	return h, addr, nil
}

// newRawRegion obtains an anonymous, process-private, read/write
// mapping of at least size bytes.
func newRawRegion(size int) ([]byte, error) {
	h, addr, err := mapPageFileView(size)
	if err != nil {
		return nil, err
	}

	handleMap[addr] = h
	var b []byte
	sh := (*reflect.SliceHeader)(unsafe.Pointer(&b))
	sh.Data = addr
	sh.Len = size
	sh.Cap = size
	return b, nil
}

// releaseRawRegion releases a region obtained from newRawRegion.
func releaseRawRegion(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&b[0]))

	if err := syscall.UnmapViewOfFile(addr); err != nil {
		return err
	}

	handle, ok := handleMap[addr]
	if !ok {
		return errors.New("unknown base address")
	}
	delete(handleMap, addr)

	return os.NewSyscallError("CloseHandle", syscall.CloseHandle(handle))
}
