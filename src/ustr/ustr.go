// Package ustr holds the kernel's path and filename type: a plain byte
// slice. Names on the volume are opaque byte sequences, so no encoding
// or normalization is ever applied; equality is bytewise.
package ustr

/// Ustr is an immutable path or filename.
type Ustr []uint8

/// Isdot reports whether the string equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

/// Isdotdot reports whether the string equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

/// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i := range us {
		if us[i] != s[i] {
			return false
		}
	}
	return true
}

/// MkUstr returns an empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

/// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr {
	return Ustr{'/'}
}

/// MkUstrSlice wraps the NUL-terminated prefix of buf as a Ustr,
/// without copying.
func MkUstrSlice(buf []uint8) Ustr {
	for i := range buf {
		if buf[i] == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

/// IsAbsolute reports whether the path begins at the root.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

/// IndexByte returns the offset of the first occurrence of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i := range us {
		if us[i] == b {
			return i
		}
	}
	return -1
}

func (us Ustr) String() string {
	return string(us)
}
