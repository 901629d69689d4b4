package delta

import (
	"fmt"

	"github.com/substratefs/treestore/pkg/object"
)

// bsdiff-style binary patches. A patch opens with the expected base and
// target sizes, then repeats control blocks until the target is complete:
//
//	diffLen varint, diffLen bytes added byte-wise to the base window,
//	extraLen varint, extraLen literal bytes,
//	seek zigzag varint adjusting the base position.
//
// The byte-wise addition turns near-identical regions into long zero runs,
// which is what makes the surrounding part compression effective.

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// ApplyPatch applies a binary patch to base and returns the target bytes.
func ApplyPatch(base, patch []byte) ([]byte, error) {
	d := object.NewDecoder(patch)
	baseSize, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("patch base size: %w", err)
	}
	if baseSize != uint64(len(base)) {
		return nil, fmt.Errorf("%w: patch base size %d, have %d bytes", ErrProtocol, baseSize, len(base))
	}
	targetSize, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("patch target size: %w", err)
	}
	if targetSize > MaxPartSize {
		return nil, fmt.Errorf("%w: patch target size %d exceeds cap", ErrProtocol, targetSize)
	}

	out := make([]byte, 0, targetSize)
	basePos := 0
	for d.Remaining() > 0 {
		diffLen, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("patch diff length: %w", err)
		}
		diff, err := readExact(d, diffLen, "diff block")
		if err != nil {
			return nil, err
		}
		if basePos < 0 || uint64(len(base)-basePos) < diffLen {
			return nil, fmt.Errorf("%w: diff block of %d bytes at base offset %d out of bounds",
				ErrProtocol, diffLen, basePos)
		}
		for i, b := range diff {
			out = append(out, base[basePos+i]+b)
		}
		basePos += int(diffLen)

		extraLen, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("patch extra length: %w", err)
		}
		extra, err := readExact(d, extraLen, "extra block")
		if err != nil {
			return nil, err
		}
		out = append(out, extra...)

		seek, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("patch seek: %w", err)
		}
		basePos += int(unzigzag(seek))
		if basePos < 0 || basePos > len(base) {
			return nil, fmt.Errorf("%w: patch seeks base to %d of %d", ErrProtocol, basePos, len(base))
		}
	}
	if uint64(len(out)) != targetSize {
		return nil, fmt.Errorf("%w: patch produced %d bytes, expected %d",
			ErrProtocol, len(out), targetSize)
	}
	return out, nil
}

func readExact(d *object.Decoder, n uint64, what string) ([]byte, error) {
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: %s of %d bytes exceeds patch remainder %d",
			ErrProtocol, what, n, d.Remaining())
	}
	out := make([]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := d.U8()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// MakePatch builds a patch transforming base into target. The construction
// is a single control block: a byte-wise diff over the overlapping prefix
// and a literal tail. It trades optimal matching for determinism; a smarter
// generator produces smaller patches in the same format.
func MakePatch(base, target []byte) []byte {
	overlap := len(base)
	if len(target) < overlap {
		overlap = len(target)
	}
	var e object.Encoder
	e.PutUvarint(uint64(len(base)))
	e.PutUvarint(uint64(len(target)))
	e.PutUvarint(uint64(overlap))
	for i := 0; i < overlap; i++ {
		e.PutU8(target[i] - base[i])
	}
	e.PutUvarint(uint64(len(target) - overlap))
	for _, b := range target[overlap:] {
		e.PutU8(b)
	}
	e.PutUvarint(zigzag(0))
	return e.Bytes()
}
