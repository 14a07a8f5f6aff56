package mmap

import "strconv"

const (
	maxSize32 = 1<<31 - 1
	maxSize64 = 1<<48 - 1
)

// MaxSize is the largest file Open will map: 2 GiB on 32-bit platforms and
// the 256 TiB user address space of 64-bit ones.
const MaxSize = maxSize32 + (strconv.IntSize/64)*(maxSize64-maxSize32)
