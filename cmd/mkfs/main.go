// Command mkfs builds a fresh ExFAT-compatible disk image from a host
// directory tree: walk a skeleton directory on the host and replicate it
// into a freshly formatted filesystem, so the resulting image can be
// handed straight to the kernel's block device at boot.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ata"
	"defs"
	"fs"
	"ustr"
	"vm"
)

const defaultSectors = 1 << 16 // 32 MiB image, plenty for a skeleton tree

// copydata streams the host file at src into dst within fsys, one
// cluster-sized chunk at a time.
func copydata(src string, fsys *fs.Fs_t, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	fh, errt := fsys.Open(ustr.Ustr(dst), defs.O_WRONLY|defs.O_CREAT|defs.O_TRUNC, 0)
	if errt != 0 {
		return fmt.Errorf("open %s: err %d", dst, errt)
	}
	defer fh.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := srcFile.Read(buf)
		if n > 0 {
			ub := &vm.Fakeubuf_t{}
			ub.Fake_init(buf[:n])
			if _, errt := fh.Write(ub); errt != 0 {
				return fmt.Errorf("write %s: err %d", dst, errt)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// addfiles walks skeldir on the host and replicates its contents into fsys.
func addfiles(fsys *fs.Fs_t, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		if d.IsDir() {
			if errt := fsys.Mkdir(ustr.Ustr(rel), 0); errt != 0 {
				return fmt.Errorf("mkdir %s: err %d", rel, errt)
			}
			return nil
		}
		return copydata(path, fsys, rel)
	})
}

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("usage: mkfs <output image> <skel dir>\n")
		os.Exit(1)
	}
	image, skeldir := os.Args[1], os.Args[2]

	disk, err := ata.NewFileDisk(image, defaultSectors)
	if err != nil {
		fmt.Printf("create image: %v\n", err)
		os.Exit(1)
	}

	fsys, errt := fs.Mkfs(disk, defaultSectors)
	if errt != 0 {
		fmt.Printf("format: err %d\n", errt)
		os.Exit(1)
	}

	if err := addfiles(fsys, skeldir); err != nil {
		fmt.Printf("populate: %v\n", err)
		os.Exit(1)
	}
}
