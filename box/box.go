// Package box implements the ISO-BMFF box navigator: locating boxes by
// four-character code within an in-memory payload, enumerating children,
// and reading 32/64-bit box headers.
//
// The matching and header-skipping logic is grounded in the teacher's
// detect.go (readBoxHeader/findBox), generalized from a single hard-coded
// target into a general-purpose iterator, and extended for 64-bit sizes,
// non-ASCII FourCCs (iTunes tags use a leading 0xA9 byte), and the meta
// box's 4-byte version/flags prefix.
package box

import (
	"errors"
	"fmt"
)

// headerSize32 is the standard 32-bit-size box header: size(4) + type(4).
const headerSize32 = 8

// headerSize64 is the extended header when the 32-bit size field is 1:
// size(4) + type(4) + largesize(8).
const headerSize64 = 16

// maxIterations bounds the number of boxes a single descent will walk,
// guarding against pathological or adversarial inputs (spec resource limit).
const maxIterations = 10000

var (
	// ErrMalformed is returned by Find/FindRange when the requested box name
	// is not exactly 4 bytes. A malformed box size is not reported as an
	// error: Iterate simply stops there.
	ErrMalformed = errors.New("box: malformed size")
	// ErrNotFound is returned when no box of the requested type exists,
	// including when iteration stopped at a malformed size before reaching it.
	ErrNotFound = errors.New("box: not found")
)

// Info describes one box discovered by Iterate: its four-character type,
// the size of its header (8 or 16 bytes), and the half-open byte range of
// its payload within the slice that was iterated.
type Info struct {
	Type          [4]byte
	HeaderSize    int
	PayloadStart  int
	PayloadEnd    int
	TotalBoxStart int // offset of the box's header, for contiguity checks
}

// FourCC returns the box type as a string. Non-ASCII bytes (iTunes tags
// like ©nam) round-trip through this conversion without interpretation;
// callers that need to match them should use FindByBytes instead of Find.
func (i Info) FourCC() string { return string(i.Type[:]) }

// Iterate walks the top-level boxes in data and calls fn for each. Iteration
// stops early if fn returns false, if a box's size is malformed (too small
// or overrunning data), or after maxIterations boxes (whichever comes
// first); malformed input never panics, it simply ends iteration.
func Iterate(data []byte, fn func(Info) bool) {
	pos := 0

	for range maxIterations {
		if pos+headerSize32 > len(data) {
			return
		}

		size := int(uint32(data[pos])<<24 | uint32(data[pos+1])<<16 | uint32(data[pos+2])<<8 | uint32(data[pos+3]))

		var typ [4]byte

		copy(typ[:], data[pos+4:pos+8])

		headerSize := headerSize32

		switch {
		case size == 0:
			// "extends to EOF" — not representable mid-iteration over a
			// bounded slice; treat the remainder of data as its payload and
			// stop after this box.
			info := Info{Type: typ, HeaderSize: headerSize32, PayloadStart: pos + headerSize32, PayloadEnd: len(data), TotalBoxStart: pos}
			fn(info)

			return
		case size == 1:
			if pos+headerSize64 > len(data) {
				return
			}

			size = int(uint64(data[pos+8])<<56 | uint64(data[pos+9])<<48 | uint64(data[pos+10])<<40 |
				uint64(data[pos+11])<<32 | uint64(data[pos+12])<<24 | uint64(data[pos+13])<<16 |
				uint64(data[pos+14])<<8 | uint64(data[pos+15]))
			headerSize = headerSize64
		case size < headerSize32:
			return
		}

		end := pos + size
		if end > len(data) || end <= pos {
			return
		}

		info := Info{
			Type:          typ,
			HeaderSize:    headerSize,
			PayloadStart:  pos + headerSize,
			PayloadEnd:    end,
			TotalBoxStart: pos,
		}

		if !fn(info) {
			return
		}

		pos = end
	}
}

// Find returns the payload slice of the first direct child box named name
// (exactly 4 ASCII bytes), or ErrNotFound.
func Find(data []byte, name string) ([]byte, error) {
	payload, _, err := FindRange(data, name)

	return payload, err
}

// FindRange returns the payload slice and its Info for the first direct
// child box named name.
func FindRange(data []byte, name string) ([]byte, Info, error) {
	if len(name) != 4 {
		return nil, Info{}, fmt.Errorf("box: %w: name must be 4 bytes, got %q", ErrMalformed, name)
	}

	var target [4]byte

	copy(target[:], name)

	return FindByBytes(data, target)
}

// FindByBytes returns the payload slice and Info of the first direct child
// box matching the raw 4-byte type target, for types that are not
// printable ASCII (iTunes tag atoms prefixed with 0xA9).
func FindByBytes(data []byte, target [4]byte) ([]byte, Info, error) {
	var (
		found    Info
		hasFound bool
	)

	Iterate(data, func(info Info) bool {
		if info.Type == target {
			found = info
			hasFound = true

			return false
		}

		return true
	})

	if !hasFound {
		return nil, Info{}, fmt.Errorf("box: %q: %w", string(target[:]), ErrNotFound)
	}

	return data[found.PayloadStart:found.PayloadEnd], found, nil
}

// DescendMeta returns the child-box payload of a meta box, skipping its
// leading 4-byte version/flags field — the one container box in ISO-BMFF
// whose first child does not start immediately at its payload offset.
func DescendMeta(metaPayload []byte) []byte {
	if len(metaPayload) <= 4 {
		return nil
	}

	return metaPayload[4:]
}

// WriteHeader appends a 32-bit-sized box header (size + FourCC) for
// payload of length payloadLen to buf and returns the result. It exists
// for test fixture construction; 64-bit extended-size generation is not
// needed by this package.
func WriteHeader(buf []byte, fourCC string, payloadLen int) []byte {
	size := headerSize32 + payloadLen
	buf = append(buf,
		byte(size>>24), byte(size>>16), byte(size>>8), byte(size), //nolint:gosec // fixture helper
	)

	return append(buf, fourCC...)
}
