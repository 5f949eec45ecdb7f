package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/debug"
	"github.com/standardbeagle/fsindex/internal/encoding"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/types"
)

// Artifact header, little endian:
//
//	0   uint32  format version
//	4   [4]byte magic "FSIX"
//	8   uint8   compression
//	9   [7]byte reserved
//	16  uint64  body length
//	24  uint64  uncompressed body length
//	32  uint64  xxhash64 of the body
//	40  body    compressed CBOR snapshot
const (
	FormatVersion uint32 = 1
	headerSize           = 40

	// maxRawBody bounds the decompression buffer a header can ask for.
	maxRawBody = 1 << 34
)

var artifactMagic = [4]byte{'F', 'S', 'I', 'X'}

// IndexState is the non-tree state persisted next to the store.
type IndexState struct {
	// LastEventID is the newest change notification applied to the store.
	LastEventID types.EventID
	// Compression applies to saves; loads report what the artifact used.
	Compression encoding.Compression
}

type snapshot struct {
	RootPath    string       `cbor:"1,keyasint"`
	Root        alloc.Index  `cbor:"2,keyasint"`
	LastEventID uint64       `cbor:"3,keyasint"`
	Generations []uint32     `cbor:"4,keyasint"`
	Nodes       []nodeRecord `cbor:"5,keyasint"`
}

type nodeRecord struct {
	_        struct{} `cbor:",toarray"`
	Index    alloc.Index
	Name     string
	Type     types.FileType
	Parent   alloc.Index
	Children []alloc.Index
	Meta     *types.NodeMetadata
}

// SaveIndex writes the store to path. The artifact is written to a temporary
// file in the same directory, synced, and renamed over path, so readers only
// ever see a complete file.
func SaveIndex(path string, store *NodeStore, state IndexState) error {
	body, raw, compression, err := encodeSnapshot(store, state)
	if err != nil {
		return fserrors.NewPersistError("save", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], FormatVersion)
	copy(header[4:8], artifactMagic[:])
	header[8] = byte(compression)
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(body)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(raw))
	binary.LittleEndian.PutUint64(header[32:40], xxhash.Sum64(body))

	if err := writeAtomic(path, header[:], body); err != nil {
		return fserrors.NewPersistError("save", path, err)
	}
	debug.LogPersist("saved %d nodes to %s (%d bytes, %s)\n", store.Len(), path, headerSize+len(body), compression)
	return nil
}

func encodeSnapshot(store *NodeStore, state IndexState) ([]byte, int, encoding.Compression, error) {
	snap := snapshot{
		RootPath:    store.rootPath,
		Root:        store.root,
		LastEventID: uint64(state.LastEventID),
		Generations: store.slab.Generations(),
		Nodes:       make([]nodeRecord, 0, store.Len()),
	}
	store.Range(func(h alloc.Handle, n *Node) bool {
		rec := nodeRecord{
			Index:    h.Index,
			Name:     n.Name,
			Type:     n.Type,
			Parent:   n.Parent,
			Children: n.Children,
		}
		if m, ok := store.meta.Get(h.Index); ok {
			rec.Meta = &m
		}
		snap.Nodes = append(snap.Nodes, rec)
		return true
	})

	raw, err := encoding.Marshal(&snap)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	compression := state.Compression
	body, err := encoding.Compress(raw, compression)
	if err == encoding.ErrIncompressible {
		body, compression = raw, encoding.CompressionNone
	} else if err != nil {
		return nil, 0, 0, err
	}
	return body, len(raw), compression, nil
}

func writeAtomic(path string, chunks ...[]byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fsindex-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	for _, chunk := range chunks {
		if _, err := tmp.Write(chunk); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// LoadIndex reads an artifact written by SaveIndex and rebuilds a fresh
// store from it. Any truncation, checksum mismatch or structural
// inconsistency fails the whole load; nothing outside the returned store is
// touched.
func LoadIndex(path string) (*NodeStore, IndexState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, IndexState{}, fserrors.NewPersistError("load", path, err)
	}
	store, state, err := decodeArtifact(path, data)
	if err != nil {
		return nil, IndexState{}, err
	}
	debug.LogPersist("loaded %d nodes from %s\n", store.Len(), path)
	return store, state, nil
}

func decodeArtifact(path string, data []byte) (*NodeStore, IndexState, error) {
	if len(data) < 4 {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "file too short (%d bytes)", len(data))
	}
	// The version is checked before anything else so future layouts can
	// change every other field.
	if v := binary.LittleEndian.Uint32(data[0:4]); v != FormatVersion {
		return nil, IndexState{}, fserrors.NewVersionError(path, v, FormatVersion)
	}
	if len(data) < headerSize {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "truncated header (%d bytes)", len(data))
	}
	if !bytes.Equal(data[4:8], artifactMagic[:]) {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "bad magic %q", data[4:8])
	}
	compression := encoding.Compression(data[8])
	if !compression.Valid() {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "unknown compression tag %d", data[8])
	}
	bodyLen := binary.LittleEndian.Uint64(data[16:24])
	rawLen := binary.LittleEndian.Uint64(data[24:32])
	sum := binary.LittleEndian.Uint64(data[32:40])

	body := data[headerSize:]
	if uint64(len(body)) != bodyLen {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "body is %d bytes, header says %d", len(body), bodyLen)
	}
	if got := xxhash.Sum64(body); got != sum {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "checksum mismatch: %016x != %016x", got, sum)
	}
	if rawLen > maxRawBody {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "uncompressed size %d too large", rawLen)
	}

	raw, err := encoding.Decompress(body, compression, int(rawLen))
	if err != nil {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "%v", err)
	}
	var snap snapshot
	if err := encoding.Unmarshal(raw, &snap); err != nil {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "decode snapshot: %v", err)
	}
	store, err := restoreStore(&snap)
	if err != nil {
		return nil, IndexState{}, fserrors.NewCorruptError(path, "%v", err)
	}
	return store, IndexState{LastEventID: types.EventID(snap.LastEventID), Compression: compression}, nil
}

// restoreStore rebuilds the slab and checks that the records describe one
// well-formed tree hanging off the root.
func restoreStore(snap *snapshot) (*NodeStore, error) {
	entries := make([]alloc.Entry[Node], 0, len(snap.Nodes))
	for _, rec := range snap.Nodes {
		if rec.Type > types.FileTypeUnknown {
			return nil, fmt.Errorf("slot %d: invalid type %d", rec.Index, rec.Type)
		}
		entries = append(entries, alloc.Entry[Node]{
			Index: rec.Index,
			Value: Node{Name: rec.Name, Type: rec.Type, Parent: rec.Parent, Children: rec.Children},
		})
	}
	slab, err := alloc.Restore(snap.Generations, entries)
	if err != nil {
		return nil, err
	}

	store := &NodeStore{
		slab:     slab,
		meta:     NewMetadataCache(len(snap.Generations)),
		root:     snap.Root,
		rootPath: snap.RootPath,
	}
	for _, rec := range snap.Nodes {
		if rec.Meta != nil {
			store.meta.Put(rec.Index, *rec.Meta)
		}
	}

	if len(snap.Nodes) == 0 {
		if snap.Root.Valid() {
			return nil, fmt.Errorf("root slot %d set on an empty store", snap.Root)
		}
		return store, nil
	}
	root, ok := slab.At(snap.Root)
	if !ok {
		return nil, fmt.Errorf("root slot %d not occupied", snap.Root)
	}
	if root.Parent.Valid() {
		return nil, fmt.Errorf("root slot %d has parent %d", snap.Root, root.Parent)
	}

	// Walk from the root checking both link directions; every occupied
	// slot must be reached exactly once.
	visited := 0
	stack := []alloc.Index{snap.Root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if visited > len(snap.Nodes) {
			return nil, fmt.Errorf("cycle in tree")
		}

		n, _ := slab.At(i)
		if len(n.Children) > 0 && !n.IsDir() {
			return nil, fmt.Errorf("slot %d: %s node has children", i, n.Type)
		}
		prev := ""
		for k, c := range n.Children {
			child, ok := slab.At(c)
			if !ok {
				return nil, fmt.Errorf("slot %d: child %d not occupied", i, c)
			}
			if child.Parent != i {
				return nil, fmt.Errorf("slot %d: child %d points at parent %d", i, c, child.Parent)
			}
			if k > 0 && strings.Compare(prev, child.Name) >= 0 {
				return nil, fmt.Errorf("slot %d: children out of order at %q", i, child.Name)
			}
			prev = child.Name
			stack = append(stack, c)
		}
	}
	if visited != len(snap.Nodes) {
		return nil, fmt.Errorf("%d of %d nodes unreachable from root", len(snap.Nodes)-visited, len(snap.Nodes))
	}
	return store, nil
}
