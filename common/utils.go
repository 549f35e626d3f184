package common

import "unsafe"

// Coalesce returns the first value that is not the zero value of T. Config and scene
// file loaders use it to fall back to defaults for empty fields.
//
// Parameters:
//   - values: candidates in priority order
//
// Returns:
//   - T: the first non-zero candidate, or the zero value
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// AlignUp rounds v up to the next multiple of alignment.
// An alignment of zero or one returns v unchanged.
//
// Parameters:
//   - v: the value to round
//   - alignment: the required alignment
//
// Returns:
//   - uint64: the smallest multiple of alignment that is >= v
func AlignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

// SliceToBytes reinterprets a slice of fixed-layout GPU records as bytes for upload.
// The result aliases data and must not outlive it.
//
// Parameters:
//   - data: source slice of any fixed-size type
//
// Returns:
//   - []byte: byte view of data, or nil if data is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), int(unsafe.Sizeof(zero))*len(data))
}
