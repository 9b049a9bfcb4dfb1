// Package util holds the small helpers shared across every kernel
// subsystem: integer alignment and the fixed-width little-endian
// accessors the on-disk structures are read and written with.
package util

import "unsafe"

/// Int is satisfied by every built-in integer type.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

/// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

/// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

/// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

/// Readn reads an n-byte little-endian value from a at off. Panics on
/// an out-of-bounds region or an unsupported width; callers pass
/// compile-time-constant widths against validated offsets.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch n {
	case 8:
		return *(*int)(p)
	case 4:
		return int(*(*uint32)(p))
	case 2:
		return int(*(*uint16)(p))
	case 1:
		return int(*(*uint8)(p))
	}
	panic("unsupported size")
}

/// Writen stores the low sz bytes of val little-endian into a at off.
/// Panics like Readn on a bad region or width.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}
