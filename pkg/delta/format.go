// Package delta implements the static delta container: a self-contained,
// checksummed binary transform from one tree checksum to another. A delta is
// a superblock enumerating prerequisite deltas, compressed parts driven by a
// small opcode interpreter, and a fallback list of objects to fetch whole.
package delta

import (
	"errors"
	"fmt"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

const (
	// FormatVersion is the part format version emitted and accepted.
	FormatVersion = 0
	// MaxPartSize caps one part's uncompressed payload.
	MaxPartSize = 16 * 1024 * 1024
	// 1 byte object type + 32 byte checksum per produced-object record.
	objtypeCsumLen = 1 + checksum.Size
)

var (
	// ErrChecksumMismatch reports a part or produced object whose checksum
	// does not match its declaration.
	ErrChecksumMismatch = errors.New("delta checksum mismatch")
	// ErrProtocol reports an opcode stream that violates the interpreter
	// state machine or indexes outside its tables.
	ErrProtocol = errors.New("delta protocol error")
	// ErrCorruptDelta reports a structurally invalid superblock or part.
	ErrCorruptDelta = errors.New("corrupt delta")
)

// ObjectRef names one object a delta part produces.
type ObjectRef struct {
	Type     object.ObjectType
	Checksum []byte
}

// HexChecksum returns the ref's checksum as hex.
func (r ObjectRef) HexChecksum() string {
	return checksum.FromBytes(r.Checksum)
}

// PartMeta describes one delta part: its payload checksum, sizes, and the
// objects executing it produces.
type PartMeta struct {
	Version          uint32
	Checksum         []byte // SHA-256 of the decompressed payload
	Size             uint64 // wire size (compression tag + compressed payload)
	UncompressedSize uint64 // decompressed payload size
	Objects          []ObjectRef
}

// FallbackEntry is an object excluded from delta parts and fetched whole.
type FallbackEntry struct {
	Type             object.ObjectType
	Checksum         []byte
	CompressedSize   uint64
	UncompressedSize uint64
}

// RecursePair names a prerequisite delta to apply before this one, letting a
// large jump be expressed as a chain.
type RecursePair struct {
	From []byte
	To   []byte
}

// Superblock is the root of a static delta. From is empty for a
// full-content ("from scratch") delta. Commit holds the canonical encoding
// of the target commit object so a receiver can validate it before any part
// arrives.
type Superblock struct {
	Metadata  []object.MetaEntry
	Timestamp uint64
	From      []byte
	To        []byte
	Commit    []byte
	Recurse   []RecursePair
	Parts     []PartMeta
	Fallbacks []FallbackEntry
}

// packObjectRefs encodes produced-object records as packed 33-byte
// (type, checksum) entries.
func packObjectRefs(refs []ObjectRef) []byte {
	out := make([]byte, 0, len(refs)*objtypeCsumLen)
	for _, r := range refs {
		out = append(out, byte(r.Type))
		out = append(out, r.Checksum...)
	}
	return out
}

func unpackObjectRefs(data []byte) ([]ObjectRef, error) {
	if len(data)%objtypeCsumLen != 0 {
		return nil, fmt.Errorf("%w: object list length %d not a multiple of %d",
			ErrCorruptDelta, len(data), objtypeCsumLen)
	}
	refs := make([]ObjectRef, 0, len(data)/objtypeCsumLen)
	for off := 0; off < len(data); off += objtypeCsumLen {
		t, err := object.ValidateType(data[off])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
		}
		csum := make([]byte, checksum.Size)
		copy(csum, data[off+1:off+objtypeCsumLen])
		refs = append(refs, ObjectRef{Type: t, Checksum: csum})
	}
	return refs, nil
}

func putPartMeta(e *object.Encoder, m *PartMeta) {
	e.PutU32(m.Version)
	e.PutBytes(m.Checksum)
	e.PutU64(m.Size)
	e.PutU64(m.UncompressedSize)
	e.PutBytes(packObjectRefs(m.Objects))
}

func readPartMeta(d *object.Decoder) (PartMeta, error) {
	var m PartMeta
	var err error
	if m.Version, err = d.U32(); err != nil {
		return m, err
	}
	if m.Checksum, err = d.Bytes("part checksum"); err != nil {
		return m, err
	}
	if m.Size, err = d.U64(); err != nil {
		return m, err
	}
	if m.UncompressedSize, err = d.U64(); err != nil {
		return m, err
	}
	packed, err := d.Bytes("part object list")
	if err != nil {
		return m, err
	}
	if m.Objects, err = unpackObjectRefs(packed); err != nil {
		return m, err
	}
	if len(m.Checksum) != checksum.Size {
		return m, fmt.Errorf("%w: part checksum is %d bytes", ErrCorruptDelta, len(m.Checksum))
	}
	return m, nil
}

// MarshalSuperblock serializes the superblock: (metadata, timestamp u64,
// from ay, to ay, commit ay, recurse a(ay,ay), parts, fallbacks).
func MarshalSuperblock(sb *Superblock) []byte {
	var e object.Encoder
	e.PutUvarint(uint64(len(sb.Metadata)))
	for _, kv := range sb.Metadata {
		e.PutString(kv.Key)
		e.PutBytes(kv.Value)
	}
	e.PutU64(sb.Timestamp)
	e.PutBytes(sb.From)
	e.PutBytes(sb.To)
	e.PutBytes(sb.Commit)
	e.PutUvarint(uint64(len(sb.Recurse)))
	for _, r := range sb.Recurse {
		e.PutBytes(r.From)
		e.PutBytes(r.To)
	}
	e.PutUvarint(uint64(len(sb.Parts)))
	for i := range sb.Parts {
		putPartMeta(&e, &sb.Parts[i])
	}
	e.PutUvarint(uint64(len(sb.Fallbacks)))
	for _, f := range sb.Fallbacks {
		e.PutU8(byte(f.Type))
		e.PutBytes(f.Checksum)
		e.PutU64(f.CompressedSize)
		e.PutU64(f.UncompressedSize)
	}
	return e.Bytes()
}

// UnmarshalSuperblock decodes and structurally validates a superblock read
// from an untrusted source.
func UnmarshalSuperblock(data []byte) (*Superblock, error) {
	d := object.NewDecoder(data)
	sb := &Superblock{}

	nMeta, err := d.ArrayLen("superblock metadata", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	prevKey := ""
	for i := 0; i < nMeta; i++ {
		key, err := d.String("metadata key")
		if err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		val, err := d.Bytes("metadata value")
		if err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if i > 0 && key <= prevKey {
			return nil, fmt.Errorf("unmarshal superblock: %w: metadata key %q not strictly ascending",
				object.ErrNonCanonical, key)
		}
		prevKey = key
		sb.Metadata = append(sb.Metadata, object.MetaEntry{Key: key, Value: val})
	}

	if sb.Timestamp, err = d.U64(); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	if sb.From, err = d.Bytes("from checksum"); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	if sb.To, err = d.Bytes("to checksum"); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	if sb.Commit, err = d.Bytes("embedded commit"); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}

	nRec, err := d.ArrayLen("recursive deltas", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	for i := 0; i < nRec; i++ {
		var p RecursePair
		if p.From, err = d.Bytes("recurse from"); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if p.To, err = d.Bytes("recurse to"); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if len(p.From) != checksum.Size || len(p.To) != checksum.Size {
			return nil, fmt.Errorf("unmarshal superblock: %w: recursive delta checksum of wrong length",
				ErrCorruptDelta)
		}
		sb.Recurse = append(sb.Recurse, p)
	}

	nParts, err := d.ArrayLen("parts", 4)
	if err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	for i := 0; i < nParts; i++ {
		m, err := readPartMeta(d)
		if err != nil {
			return nil, fmt.Errorf("unmarshal superblock: part %d: %w", i, err)
		}
		sb.Parts = append(sb.Parts, m)
	}

	nFall, err := d.ArrayLen("fallbacks", 2)
	if err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}
	for i := 0; i < nFall; i++ {
		var f FallbackEntry
		tb, err := d.U8()
		if err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if f.Type, err = object.ValidateType(tb); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: fallback %d: %w", i, err)
		}
		if f.Checksum, err = d.Bytes("fallback checksum"); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if len(f.Checksum) != checksum.Size {
			return nil, fmt.Errorf("unmarshal superblock: %w: fallback checksum of wrong length",
				ErrCorruptDelta)
		}
		if f.CompressedSize, err = d.U64(); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		if f.UncompressedSize, err = d.U64(); err != nil {
			return nil, fmt.Errorf("unmarshal superblock: %w", err)
		}
		sb.Fallbacks = append(sb.Fallbacks, f)
	}

	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: %w", err)
	}

	if len(sb.From) != 0 && len(sb.From) != checksum.Size {
		return nil, fmt.Errorf("unmarshal superblock: %w: from checksum is %d bytes",
			ErrCorruptDelta, len(sb.From))
	}
	if len(sb.To) != checksum.Size {
		return nil, fmt.Errorf("unmarshal superblock: %w: to checksum is %d bytes",
			ErrCorruptDelta, len(sb.To))
	}
	if _, err := object.UnmarshalCommit(sb.Commit); err != nil {
		return nil, fmt.Errorf("unmarshal superblock: embedded commit: %w", err)
	}
	return sb, nil
}
