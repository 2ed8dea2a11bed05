// Command dynamicpool-example exercises the variable-block engine, in
// the manner of the original project's dynamic_pool_driver.c.
package main

import (
	"fmt"
	"math"
	"os"
	"unsafe"

	mempool "github.com/LittleRonk/memory-pool"
)

func checkError(context string) {
	if err := mempool.LastError(); err != mempool.OK {
		fmt.Fprintf(os.Stderr, "%s: %v\n", context, err)
		os.Exit(1)
	}
}

func main() {
	mempool.EnableStdoutLogging(mempool.LevelInfo)

	pool, err := mempool.NewDynamicPool(int(unsafe.Sizeof(int(0))) * 10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool, returned error %v\n", mempool.LastError())
		os.Exit(1)
	}
	fmt.Printf("Pool created\ncapacity: %d\n", pool.Capacity())

	xRaw, err := pool.Alloc(int(unsafe.Sizeof(int32(0))))
	if err == nil {
		x := (*int32)(xRaw)
		*x = 69
		fmt.Printf("x = %d\n", *x)
		fmt.Printf("Pool size: %d\n", pool.Size())
	}

	yRaw, err := pool.Alloc(int(unsafe.Sizeof(float32(0))))
	if err == nil {
		y := (*float32)(yRaw)
		*y = -69.69
		fmt.Printf("y = %.2f\n", *y)
		fmt.Printf("Pool size: %d\n", pool.Size())
	}

	x := (*int32)(xRaw)
	y := (*float32)(yRaw)
	fmt.Printf("x: %d | y: %.2f\n", *x, math.Round(float64(*y)*100)/100)

	pool.Free(xRaw)
	checkError("freeing x")

	if err := pool.Destroy(); err != nil {
		fmt.Fprintf(os.Stderr, "destroying pool: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Testing completed.")
}
