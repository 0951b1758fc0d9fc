// Package binfmt reinterprets raw little-endian checkpoint bytes as typed
// slices without copying, the same zero-copy cast every llama2.c-style
// port relies on for mmap'd weights to stay cheap.
package binfmt

import "unsafe"

// Float32s reinterprets b as a []float32. len(b) must be a multiple of 4;
// the caller (weights.Layout) guarantees this from the header-derived
// shapes, so this never needs to report an error.
func Float32s(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// Int8s reinterprets b as a []int8.
func Int8s(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}
