// Command blockpool-example exercises the fixed-block engine, in the
// manner of the original project's block_pool_driver.c.
package main

import (
	"fmt"
	"os"
	"unsafe"

	mempool "github.com/LittleRonk/memory-pool"
)

type data struct {
	id   int32
	name [32]byte
}

func setName(d *data, s string) {
	n := copy(d.name[:], s)
	d.name[n] = 0
}

func nameOf(d *data) string {
	n := 0
	for n < len(d.name) && d.name[n] != 0 {
		n++
	}
	return string(d.name[:n])
}

func main() {
	mempool.EnableStdoutLogging(mempool.LevelInfo)

	const capacity = 5
	pool, err := mempool.NewBlockPool(capacity, int(unsafe.Sizeof(data{})))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating the pool: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("BlockPool successfully created. Capacity: %d, block size: %d\n",
		pool.Capacity(), unsafe.Sizeof(data{}))

	raw1, err1 := pool.Alloc()
	raw2, err2 := pool.Alloc()
	raw3, err3 := pool.Alloc()
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(os.Stderr, "error allocating memory from the pool")
		pool.Destroy()
		os.Exit(1)
	}
	fmt.Println("Allocated 3 memory blocks from the pool.")

	d1 := (*data)(raw1)
	d2 := (*data)(raw2)
	d3 := (*data)(raw3)

	d1.id, d2.id, d3.id = 1, 2, 3
	setName(d1, "Data 1")
	setName(d2, "Data 2")
	setName(d3, "Data 3")

	fmt.Printf("Data 1: id = %d, name = %s\n", d1.id, nameOf(d1))
	fmt.Printf("Data 2: id = %d, name = %s\n", d2.id, nameOf(d2))
	fmt.Printf("Data 3: id = %d, name = %s\n", d3.id, nameOf(d3))

	fmt.Println("Freeing block data2...")
	pool.Free(raw2)

	raw4, err := pool.Alloc()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error allocating memory from the pool")
		pool.Destroy()
		os.Exit(1)
	}
	d4 := (*data)(raw4)
	d4.id = 4
	setName(d4, "Data 4")
	fmt.Printf("Data 4: id = %d, name = %s\n", d4.id, nameOf(d4))

	fmt.Println("Clearing the pool...")
	pool.Clear()

	raw5, err := pool.Alloc()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error allocating memory from the pool after clearing")
		pool.Destroy()
		os.Exit(1)
	}
	d5 := (*data)(raw5)
	d5.id = 5
	setName(d5, "Data 5")
	fmt.Printf("Data 5: id = %d, name = %s\n", d5.id, nameOf(d5))

	fmt.Println("Destroying the pool...")
	if err := pool.Destroy(); err != nil {
		fmt.Fprintf(os.Stderr, "error destroying the pool: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Testing completed.")
}
