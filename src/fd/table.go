package fd

import "defs"

/// NFDS is the fixed size of a task's file-descriptor table.
const NFDS = 16

/// Table_t is a task's fixed-size file-descriptor table. Slots 0-2 are
/// conventionally the console; slots >= 3 map to filesystem handles
/// opened via the open() syscall.
type Table_t struct {
	slots [NFDS]*Fd_t
}

/// Get returns the descriptor at fdnum, or nil if the slot is empty or
/// out of range.
func (t *Table_t) Get(fdnum int) *Fd_t {
	if fdnum < 0 || fdnum >= NFDS {
		return nil
	}
	return t.slots[fdnum]
}

/// Install places fd in the lowest free slot >= from and returns its
/// number, or -1 if the table is full. open() calls this with from=3 so
/// the standard descriptors are never reassigned.
func (t *Table_t) Install(fd *Fd_t, from int) int {
	for i := from; i < NFDS; i++ {
		if t.slots[i] == nil {
			t.slots[i] = fd
			return i
		}
	}
	return -1
}

/// InstallAt forces fd into slot fdnum, evicting whatever was there
/// (used only to seed the console descriptors at task creation).
func (t *Table_t) InstallAt(fdnum int, fd *Fd_t) {
	if fdnum < 0 || fdnum >= NFDS {
		panic("fd out of range")
	}
	t.slots[fdnum] = fd
}

/// Remove clears fdnum and returns what was there, or nil.
func (t *Table_t) Remove(fdnum int) *Fd_t {
	if fdnum < 0 || fdnum >= NFDS {
		return nil
	}
	fd := t.slots[fdnum]
	t.slots[fdnum] = nil
	return fd
}

/// CloseAll closes every open descriptor, used by exit().
func (t *Table_t) CloseAll() {
	for i, fd := range t.slots {
		if fd != nil {
			fd.Fops.Close()
			t.slots[i] = nil
		}
	}
}

/// Clone deep-copies the table for fork(): every descriptor is a
/// freshly allocated handle record with the source's state.
func (t *Table_t) Clone() (*Table_t, defs.Err_t) {
	nt := &Table_t{}
	for i, f := range t.slots {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			nt.CloseAll()
			return nil, err
		}
		nt.slots[i] = nf
	}
	return nt, 0
}
