// Package bpath canonicalizes slash-separated paths built from ustr.Ustr
// components, the way the filesystem layer expects them: "." and ".."
// collapsed, ".." at the root a no-op, no normalization of the
// byte-sequence components themselves.
package bpath

import "ustr"

/// Canonicalize collapses "." and ".." components in p and returns the
/// resulting absolute path. p must already be absolute (callers join a
/// relative path onto the cwd before calling this, via fd.Cwd_t.Fullpath).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	parts := split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0:
			continue
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			// ".." at the root is a no-op.
		default:
			stack = append(stack, c)
		}
	}
	return join(stack)
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func join(parts []ustr.Ustr) ustr.Ustr {
	ret := ustr.MkUstrRoot()
	for i, c := range parts {
		if i == 0 {
			ret = append(ustr.Ustr{}, c...)
			ret = append(ustr.Ustr{'/'}, ret...)
		} else {
			ret = append(ret, '/')
			ret = append(ret, c...)
		}
	}
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return ret
}

/// Split divides an absolute path into its parent directory and final
/// component. Used by create/mkdir/rename to locate the containing
/// directory before resolving the leaf name. A path that canonicalizes
/// to "/" has no final component: name comes back empty, and callers
/// must treat that as naming the directory itself rather than looking
/// an empty name up inside it.
func Split(p ustr.Ustr) (dir ustr.Ustr, name ustr.Ustr) {
	cp := Canonicalize(p)
	idx := -1
	for i := len(cp) - 1; i >= 0; i-- {
		if cp[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ustr.MkUstrRoot(), cp[idx+1:]
	}
	return cp[:idx], cp[idx+1:]
}
