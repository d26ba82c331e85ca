package objects

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Kind discriminates the two object kinds (spec §3).
type Kind uint8

const (
	KindTree Kind = 0x00
	KindFile Kind = 0x01
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "tree"
}

var ErrBadEncoding = errors.New("malformed object encoding")

// TreeEntry is one (name, kind, child id) triple within a Tree.
type TreeEntry struct {
	Name string
	Kind Kind
	ID   ID
}

// Tree is an ordered sequence of entries, sorted by Name ascending. The zero
// value is the empty tree.
type Tree struct {
	Entries []TreeEntry
}

// NewTree sorts entries by name and returns the Tree. Duplicate names are the
// caller's error (the tree builder never produces them).
func NewTree(entries []TreeEntry) Tree {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return Tree{Entries: sorted}
}

// EmptyTreeID is the fixed canonical id of the empty tree (spec §3: "Empty
// trees are allowed and have a fixed canonical id").
var EmptyTreeID = Hash(Tree{}.Encode())

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// Encode produces the canonical byte-exact tree encoding (spec §4.1):
// entries sorted by name, each as uvarint(name_len) ‖ name ‖ u8(kind) ‖ 20
// bytes id, the whole blob prefixed with the kind-discriminating byte 0x00.
func (t Tree) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindTree))
	for _, e := range t.Entries {
		putUvarint(&buf, uint64(len(e.Name)))
		buf.WriteString(e.Name)
		buf.WriteByte(byte(e.Kind))
		buf.Write(e.ID[:])
	}
	return buf.Bytes()
}

// DecodeTree is the inverse of Encode.
func DecodeTree(blob []byte) (Tree, error) {
	if len(blob) == 0 || Kind(blob[0]) != KindTree {
		return Tree{}, fmt.Errorf("%w: not a tree blob", ErrBadEncoding)
	}
	ptr := blob[1:]
	var entries []TreeEntry
	for len(ptr) > 0 {
		nameLen, n := binary.Uvarint(ptr)
		if n <= 0 {
			return Tree{}, fmt.Errorf("%w: bad name length", ErrBadEncoding)
		}
		ptr = ptr[n:]
		if uint64(len(ptr)) < nameLen+1+IDSize {
			return Tree{}, fmt.Errorf("%w: truncated entry", ErrBadEncoding)
		}
		name := string(ptr[:nameLen])
		ptr = ptr[nameLen:]
		kind := Kind(ptr[0])
		ptr = ptr[1:]
		var id ID
		copy(id[:], ptr[:IDSize])
		ptr = ptr[IDSize:]
		entries = append(entries, TreeEntry{Name: name, Kind: kind, ID: id})
	}
	return Tree{Entries: entries}, nil
}

// ByName looks up a direct child by name; ok is false if absent.
func (t Tree) ByName(name string) (TreeEntry, bool) {
	// Entries are sorted but directories are small in practice; a linear
	// scan avoids pulling in a binary-search helper for a handful of items.
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// FileEntry is the (content_hash, size) pair identifying a regular file's
// contents (spec §3).
type FileEntry struct {
	ContentHash []byte
	Size        uint64
}

// Encode produces the canonical FileEntry encoding (spec §4.1):
// 0x01 ‖ uvarint(size) ‖ uvarint(hash_len) ‖ hash_bytes.
func (f FileEntry) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindFile))
	putUvarint(&buf, f.Size)
	putUvarint(&buf, uint64(len(f.ContentHash)))
	buf.Write(f.ContentHash)
	return buf.Bytes()
}

// DecodeFileEntry is the inverse of Encode.
func DecodeFileEntry(blob []byte) (FileEntry, error) {
	if len(blob) == 0 || Kind(blob[0]) != KindFile {
		return FileEntry{}, fmt.Errorf("%w: not a file entry blob", ErrBadEncoding)
	}
	ptr := blob[1:]
	size, n := binary.Uvarint(ptr)
	if n <= 0 {
		return FileEntry{}, fmt.Errorf("%w: bad size", ErrBadEncoding)
	}
	ptr = ptr[n:]
	hashLen, n := binary.Uvarint(ptr)
	if n <= 0 {
		return FileEntry{}, fmt.Errorf("%w: bad hash length", ErrBadEncoding)
	}
	ptr = ptr[n:]
	if uint64(len(ptr)) < hashLen {
		return FileEntry{}, fmt.Errorf("%w: truncated hash", ErrBadEncoding)
	}
	hash := make([]byte, hashLen)
	copy(hash, ptr[:hashLen])
	return FileEntry{ContentHash: hash, Size: size}, nil
}

// SameContentAs reports whether two FileEntry values are interchangeable
// (spec §3: "Two files with identical content_hash are interchangeable").
func (f FileEntry) SameContentAs(g FileEntry) bool {
	return bytes.Equal(f.ContentHash, g.ContentHash)
}
