// Package stat describes the information returned by the stat syscall:
// private fields, word-at-a-time writer methods, and a Bytes() escape
// hatch for copying the structure to user space.
package stat

import "unsafe"

// Attribute bits, taken directly from the ExFAT File entry's attribute
// field.
const (
	ATTR_READONLY  = 0x01
	ATTR_HIDDEN    = 0x02
	ATTR_SYSTEM    = 0x04
	ATTR_DIRECTORY = 0x10
	ATTR_ARCHIVE   = 0x20
)

/// Stat_t mirrors one filesystem object's metadata.
type Stat_t struct {
	_cluster uint // first cluster of the object's chain
	_attr    uint // ExFAT attribute bits
	_size    uint // data_length in bytes
	_mtime   uint // ExFAT-encoded 32-bit modification timestamp
}

/// Wcluster records the first cluster of the backing chain.
func (st *Stat_t) Wcluster(v uint) { st._cluster = v }

/// Wattr records the ExFAT attribute bits.
func (st *Stat_t) Wattr(v uint) { st._attr = v }

/// Wsize records the file's data length.
func (st *Stat_t) Wsize(v uint) { st._size = v }

/// Wmtime records the ExFAT-encoded modification timestamp.
func (st *Stat_t) Wmtime(v uint) { st._mtime = v }

/// Cluster returns the first cluster of the backing chain.
func (st *Stat_t) Cluster() uint { return st._cluster }

/// Attr returns the ExFAT attribute bits.
func (st *Stat_t) Attr() uint { return st._attr }

/// Size returns the data length in bytes.
func (st *Stat_t) Size() uint { return st._size }

/// Mtime returns the ExFAT-encoded modification timestamp.
func (st *Stat_t) Mtime() uint { return st._mtime }

/// IsDir reports whether the object is a directory.
func (st *Stat_t) IsDir() bool { return st._attr&ATTR_DIRECTORY != 0 }

/// Bytes exposes the raw struct contents for copying to user space via
/// a syscall buffer.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
