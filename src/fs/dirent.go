package fs

import "ustr"
import "util"

// Directory entry type codes. Each
// object occupies a File entry followed by a Stream Extension entry
// and one or more File Name entries, all 32 bytes. Bit 0x80 is the
// InUse flag: clearing it on the File entry marks the whole set
// deleted without disturbing the entries after it, the same
// tombstone-in-place approach a log-structured allocator uses.
const (
	entryEndOfDir = 0x00
	entryBitmap   = 0x81
	entryUpcase   = 0x82
	entryFile     = 0x85
	entryStream   = 0xC0
	entryName     = 0xC1
	entryInUseBit = 0x80

	directoryEntrySize = 32
	nameCharsPerEntry  = 15 // bytes of opaque filename payload per name entry

	entryFileAttrOff  = 4  // uint16
	entryFileMtimeOff = 12 // uint32, seconds since Unix epoch truncated to 32 bits

	entryStreamFlagsOff   = 1
	entryStreamNameLenOff = 3
	entryStreamClusterOff = 20 // uint32
	entryStreamSizeOff    = 24 // uint64

	// a set bit in the Stream entry's flags meaning the allocation is
	// one contiguous run with no FAT chain behind it
	streamFlagNoFatChain = 0x02
)

/// direntSet_t is the decoded form of one object's directory entry set:
/// a File entry, a Stream Extension entry, and the name entries that
/// follow it, still addressed by their byte offset within the parent
/// directory's cluster chain so the caller can write updates back or
/// tombstone the set on delete.
type direntSet_t struct {
	off   int // byte offset of the File entry within the directory
	nrecs int // 2 + len(name entries)

	Name    ustr.Ustr
	Attr    uint16
	Mtime   uint32
	Cluster uint32
	Size    uint64
	Contig  bool // stream entry's no-FAT-chain flag
}

func secondaryCount(nameLen int) int {
	nameRecs := (nameLen + nameCharsPerEntry - 1) / nameCharsPerEntry
	if nameRecs == 0 {
		nameRecs = 1
	}
	return 1 + nameRecs // stream entry + name entries
}

// encode serializes d into nrecs*32 bytes starting with the File entry.
func (d *direntSet_t) encode() []uint8 {
	sc := secondaryCount(len(d.Name))
	nrecs := 1 + sc
	buf := make([]uint8, nrecs*directoryEntrySize)

	buf[0] = entryFile
	buf[1] = uint8(sc)
	util.Writen(buf, 2, entryFileAttrOff, int(d.Attr))
	util.Writen(buf, 4, entryFileMtimeOff, int(d.Mtime))

	so := directoryEntrySize
	buf[so] = entryStream
	if d.Contig {
		buf[so+entryStreamFlagsOff] = streamFlagNoFatChain
	}
	util.Writen(buf, 1, so+entryStreamNameLenOff, len(d.Name))
	util.Writen(buf, 4, so+entryStreamClusterOff, int(d.Cluster))
	util.Writen(buf, 8, so+entryStreamSizeOff, int(d.Size))

	name := d.Name
	for i := 0; i < sc-1; i++ {
		eo := so + (i+1)*directoryEntrySize
		buf[eo] = entryName
		n := nameCharsPerEntry
		if n > len(name) {
			n = len(name)
		}
		copy(buf[eo+2:eo+2+n], name[:n])
		name = name[n:]
	}
	d.nrecs = nrecs
	return buf
}

// decode parses a directory entry set starting at raw[0] (a File
// entry). Returns nrecs == 0 if raw[0] is not an in-use File entry.
func decodeDirent(raw []uint8, off int) *direntSet_t {
	if raw[0] != entryFile {
		return nil
	}
	sc := int(raw[1])
	need := (1 + sc) * directoryEntrySize
	if need > len(raw) {
		return nil
	}
	d := &direntSet_t{off: off, nrecs: 1 + sc}
	d.Attr = uint16(util.Readn(raw, 2, entryFileAttrOff))
	d.Mtime = uint32(util.Readn(raw, 4, entryFileMtimeOff))

	so := directoryEntrySize
	if raw[so] != entryStream {
		return nil
	}
	nameLen := util.Readn(raw, 1, so+entryStreamNameLenOff)
	d.Contig = raw[so+entryStreamFlagsOff]&streamFlagNoFatChain != 0
	d.Cluster = uint32(util.Readn(raw, 4, so+entryStreamClusterOff))
	d.Size = uint64(util.Readn(raw, 8, so+entryStreamSizeOff))

	name := ustr.MkUstr()
	remain := nameLen
	for i := 0; i < sc-1; i++ {
		eo := so + (i+1)*directoryEntrySize
		if raw[eo] != entryName {
			return nil
		}
		n := nameCharsPerEntry
		if n > remain {
			n = remain
		}
		name = append(name, raw[eo+2:eo+2+n]...)
		remain -= n
	}
	d.Name = name
	return d
}
