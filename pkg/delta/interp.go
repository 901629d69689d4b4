package delta

import (
	"bytes"
	"fmt"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

// Opcodes of the part operation stream. Each opcode consumes a fixed shape
// of varint operands indexing the payload's tables and raw data blob.
const (
	OpOpenSpliceAndClose byte = 'S'
	OpOpen               byte = 'o'
	OpWrite              byte = 'w'
	OpSetReadSource      byte = 'r'
	OpUnsetReadSource    byte = 'R'
	OpClose              byte = 'c'
	OpBSPatch            byte = 'B'
)

// ObjectSink receives the objects a part produces. Implementations must
// provide at-most-once creation per (type, checksum): committing an object
// that already exists and validates is success, and a partially written
// object must never be observable at its content-addressed path.
type ObjectSink interface {
	HasObject(t object.ObjectType, csum string) (bool, error)
	CommitMetaObject(t object.ObjectType, csum string, data []byte) error
	CommitFileObject(csum string, meta *object.FileMeta, content []byte) error
}

// ObjectSource supplies the raw content of existing file objects used as
// patch bases.
type ObjectSource interface {
	ReadFileContent(csum string) ([]byte, error)
}

// Interpreter states. Any transition not defined by the opcode table is a
// protocol error.
type execState int

const (
	stateIdle execState = iota
	stateOpen
	stateOpenWithSource
)

func (s execState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpen:
		return "object open"
	case stateOpenWithSource:
		return "object open with read source"
	default:
		return "unknown"
	}
}

// Executor replays validated delta parts against an object store.
type Executor struct {
	Sink   ObjectSink
	Source ObjectSource
}

type execContext struct {
	payload *Payload
	objects []ObjectRef
	next    int // index of the next expected object

	state      execState
	current    ObjectRef
	meta       *object.FileMeta
	buf        bytes.Buffer
	readSource []byte
}

// Execute replays one validated part. Callers must have run ValidatePart on
// the wire bytes first; Execute trusts the payload tables but still verifies
// every produced object's checksum before it is committed.
func (x *Executor) Execute(meta *PartMeta, payload *Payload) error {
	ec := &execContext{payload: payload, objects: meta.Objects}
	d := object.NewDecoder(payload.Ops)
	for d.Remaining() > 0 {
		op, err := d.U8()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		switch op {
		case OpOpenSpliceAndClose:
			err = x.opOpenSpliceAndClose(ec, d)
		case OpOpen:
			err = x.opOpen(ec, d)
		case OpWrite:
			err = x.opWrite(ec, d)
		case OpSetReadSource:
			err = x.opSetReadSource(ec, d)
		case OpUnsetReadSource:
			err = x.opUnsetReadSource(ec)
		case OpClose:
			err = x.opClose(ec)
		case OpBSPatch:
			err = x.opBSPatch(ec, d)
		default:
			return fmt.Errorf("%w: unknown opcode %#x", ErrProtocol, op)
		}
		if err != nil {
			return err
		}
	}
	if ec.state != stateIdle {
		return fmt.Errorf("%w: operation stream ended with state %q", ErrProtocol, ec.state)
	}
	if ec.next != len(ec.objects) {
		return fmt.Errorf("%w: part produced %d of %d declared objects",
			ErrProtocol, ec.next, len(ec.objects))
	}
	return nil
}

func (ec *execContext) takeNextObject() (ObjectRef, error) {
	if ec.next >= len(ec.objects) {
		return ObjectRef{}, fmt.Errorf("%w: more opened objects than the part declares", ErrProtocol)
	}
	ref := ec.objects[ec.next]
	ec.next++
	return ref, nil
}

func (ec *execContext) rawSlice(size, offset uint64, what string) ([]byte, error) {
	raw := ec.payload.Raw
	if offset > uint64(len(raw)) || size > uint64(len(raw))-offset {
		return nil, fmt.Errorf("%w: %s [%d,+%d) outside raw data of %d bytes",
			ErrProtocol, what, offset, size, len(raw))
	}
	return raw[offset : offset+size], nil
}

func (ec *execContext) fileMetaAt(modeIdx, xattrIdx uint64) (*object.FileMeta, error) {
	if modeIdx >= uint64(len(ec.payload.Modes)) {
		return nil, fmt.Errorf("%w: mode index %d outside table of %d",
			ErrProtocol, modeIdx, len(ec.payload.Modes))
	}
	if xattrIdx >= uint64(len(ec.payload.Xattrs)) {
		return nil, fmt.Errorf("%w: xattr index %d outside table of %d",
			ErrProtocol, xattrIdx, len(ec.payload.Xattrs))
	}
	m := ec.payload.Modes[modeIdx]
	meta := &object.FileMeta{
		UID:    m.UID,
		GID:    m.GID,
		Mode:   m.Mode,
		Xattrs: ec.payload.Xattrs[xattrIdx],
	}
	if err := object.ValidateFileMode(meta.Mode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return meta, nil
}

// opOpenSpliceAndClose creates a whole object in one step from raw data.
// Metadata objects consume (size, offset); file objects consume
// (modeIdx, xattrIdx, size, offset), where the raw slice is the content and
// a symlink's slice is its target path.
func (x *Executor) opOpenSpliceAndClose(ec *execContext, d *object.Decoder) error {
	if ec.state != stateIdle {
		return fmt.Errorf("%w: OPEN_SPLICE_AND_CLOSE while %s", ErrProtocol, ec.state)
	}
	ref, err := ec.takeNextObject()
	if err != nil {
		return err
	}

	if ref.Type.IsMeta() {
		size, offset, err := readSizeOffset(d)
		if err != nil {
			return err
		}
		data, err := ec.rawSlice(size, offset, "metadata splice")
		if err != nil {
			return err
		}
		got := object.ComputeMetaChecksum(data)
		if got != ref.HexChecksum() {
			return fmt.Errorf("%w: spliced %s object is %s, expected %s",
				ErrChecksumMismatch, ref.Type, got, ref.HexChecksum())
		}
		return x.commitMeta(ref, data)
	}

	modeIdx, err := d.Uvarint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	xattrIdx, err := d.Uvarint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	size, offset, err := readSizeOffset(d)
	if err != nil {
		return err
	}
	meta, err := ec.fileMetaAt(modeIdx, xattrIdx)
	if err != nil {
		return err
	}
	data, err := ec.rawSlice(size, offset, "file splice")
	if err != nil {
		return err
	}
	if object.IsSymlinkMode(meta.Mode) {
		meta.SymlinkTarget = string(data)
		data = nil
	}
	return x.finalizeFile(ref, meta, data)
}

// opOpen begins streaming writes into a new file object.
func (x *Executor) opOpen(ec *execContext, d *object.Decoder) error {
	if ec.state != stateIdle {
		return fmt.Errorf("%w: OPEN while %s", ErrProtocol, ec.state)
	}
	ref, err := ec.takeNextObject()
	if err != nil {
		return err
	}
	if ref.Type.IsMeta() {
		return fmt.Errorf("%w: OPEN of %s object; metadata must be spliced", ErrProtocol, ref.Type)
	}
	modeIdx, err := d.Uvarint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	xattrIdx, err := d.Uvarint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	// Declared size; the close-time checksum is authoritative.
	if _, err := d.Uvarint(); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	meta, err := ec.fileMetaAt(modeIdx, xattrIdx)
	if err != nil {
		return err
	}
	ec.current = ref
	ec.meta = meta
	ec.buf.Reset()
	ec.state = stateOpen
	return nil
}

// opWrite appends a raw-data slice to the open object.
func (x *Executor) opWrite(ec *execContext, d *object.Decoder) error {
	if ec.state != stateOpen && ec.state != stateOpenWithSource {
		return fmt.Errorf("%w: WRITE while %s", ErrProtocol, ec.state)
	}
	size, offset, err := readSizeOffset(d)
	if err != nil {
		return err
	}
	data, err := ec.rawSlice(size, offset, "write")
	if err != nil {
		return err
	}
	ec.buf.Write(data)
	return nil
}

// opSetReadSource binds an existing stored file object as the patch base.
// Rebinding while a source is active is allowed.
func (x *Executor) opSetReadSource(ec *execContext, d *object.Decoder) error {
	if ec.state != stateOpen && ec.state != stateOpenWithSource {
		return fmt.Errorf("%w: SET_READ_SOURCE while %s", ErrProtocol, ec.state)
	}
	offset, err := d.Uvarint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	csumBytes, err := ec.rawSlice(checksum.Size, offset, "read source checksum")
	if err != nil {
		return err
	}
	content, err := x.Source.ReadFileContent(checksum.FromBytes(csumBytes))
	if err != nil {
		return fmt.Errorf("read source %s: %w", checksum.FromBytes(csumBytes), err)
	}
	ec.readSource = content
	ec.state = stateOpenWithSource
	return nil
}

func (x *Executor) opUnsetReadSource(ec *execContext) error {
	if ec.state != stateOpenWithSource {
		return fmt.Errorf("%w: UNSET_READ_SOURCE while %s", ErrProtocol, ec.state)
	}
	ec.readSource = nil
	ec.state = stateOpen
	return nil
}

// opBSPatch applies a binary patch from raw data against the active read
// source, appending the result to the open object.
func (x *Executor) opBSPatch(ec *execContext, d *object.Decoder) error {
	if ec.state != stateOpenWithSource {
		return fmt.Errorf("%w: BSPATCH while %s", ErrProtocol, ec.state)
	}
	size, offset, err := readSizeOffset(d)
	if err != nil {
		return err
	}
	patch, err := ec.rawSlice(size, offset, "patch blob")
	if err != nil {
		return err
	}
	out, err := ApplyPatch(ec.readSource, patch)
	if err != nil {
		return err
	}
	ec.buf.Write(out)
	return nil
}

// opClose finalizes the open object, verifies its checksum, and commits it.
func (x *Executor) opClose(ec *execContext) error {
	if ec.state != stateOpen && ec.state != stateOpenWithSource {
		return fmt.Errorf("%w: CLOSE while %s", ErrProtocol, ec.state)
	}
	var content []byte
	if object.IsRegularMode(ec.meta.Mode) {
		content = ec.buf.Bytes()
	}
	err := x.finalizeFile(ec.current, ec.meta, content)
	ec.buf.Reset()
	ec.meta = nil
	ec.readSource = nil
	ec.state = stateIdle
	return err
}

func (x *Executor) commitMeta(ref ObjectRef, data []byte) error {
	have, err := x.Sink.HasObject(ref.Type, ref.HexChecksum())
	if err != nil {
		return err
	}
	if have {
		return nil
	}
	return x.Sink.CommitMetaObject(ref.Type, ref.HexChecksum(), data)
}

func (x *Executor) finalizeFile(ref ObjectRef, meta *object.FileMeta, content []byte) error {
	got, err := object.ComputeFileChecksum(meta, bytes.NewReader(content))
	if err != nil {
		return err
	}
	if got != ref.HexChecksum() {
		return fmt.Errorf("%w: produced file object is %s, expected %s",
			ErrChecksumMismatch, got, ref.HexChecksum())
	}
	have, err := x.Sink.HasObject(object.TypeFile, ref.HexChecksum())
	if err != nil {
		return err
	}
	if have {
		return nil
	}
	return x.Sink.CommitFileObject(ref.HexChecksum(), meta, content)
}

func readSizeOffset(d *object.Decoder) (size, offset uint64, err error) {
	if size, err = d.Uvarint(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if offset, err = d.Uvarint(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return size, offset, nil
}

// HaveAllObjects reports whether every object a part declares already exists
// in the sink, letting a receiver skip fetching the part entirely.
func HaveAllObjects(sink ObjectSink, refs []ObjectRef) (bool, error) {
	for _, ref := range refs {
		have, err := sink.HasObject(ref.Type, ref.HexChecksum())
		if err != nil {
			return false, err
		}
		if !have {
			return false, nil
		}
	}
	return true, nil
}
