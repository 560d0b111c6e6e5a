package box_test

import (
	"errors"
	"testing"

	"github.com/mycophonic/isoprobe/box"
)

func buildBox(t *testing.T, fourCC string, payload []byte) []byte {
	t.Helper()

	return box.WriteHeader(nil, fourCC, len(payload))
}

func TestIterateContiguous(t *testing.T) {
	t.Parallel()

	var data []byte
	data = append(data, box.WriteHeader(nil, "ftyp", 4)...)
	data = append(data, []byte("isom")...)
	data = append(data, box.WriteHeader(nil, "moov", 8)...)
	data = append(data, []byte("abcdefgh")...)

	var offsets []int

	box.Iterate(data, func(info box.Info) bool {
		offsets = append(offsets, info.TotalBoxStart, info.PayloadStart, info.PayloadEnd)

		return true
	})

	if len(offsets) != 6 {
		t.Fatalf("expected 2 boxes (6 values), got %d values: %v", len(offsets), offsets)
	}

	// For every yielded box, TotalBoxStart + headerSize + payloadLen == next TotalBoxStart.
	firstEnd := offsets[2]
	secondStart := offsets[3]

	if firstEnd != secondStart {
		t.Fatalf("boxes not contiguous: first ends at %d, second box starts at %d", firstEnd, secondStart)
	}
}

func TestIterateStopsOnMalformedSize(t *testing.T) {
	t.Parallel()

	// Declared size smaller than the header itself.
	data := []byte{0, 0, 0, 4, 'm', 'o', 'o', 'v', 'x', 'x', 'x', 'x'}

	var count int

	box.Iterate(data, func(box.Info) bool {
		count++

		return true
	})

	if count != 0 {
		t.Fatalf("expected no boxes yielded for malformed size, got %d", count)
	}
}

func TestIterateStopsWhenOverrunningParent(t *testing.T) {
	t.Parallel()

	// Declared size larger than the remaining data.
	data := []byte{0, 0, 0, 100, 'm', 'o', 'o', 'v'}

	var count int

	box.Iterate(data, func(box.Info) bool {
		count++

		return true
	})

	if count != 0 {
		t.Fatalf("expected no boxes yielded for oversize box, got %d", count)
	}
}

func TestFindRange(t *testing.T) {
	t.Parallel()

	var data []byte
	data = append(data, buildBox(t, "free", []byte("xx"))...)
	data = append(data, []byte("xx")...)
	data = append(data, buildBox(t, "mvhd", []byte("hello!!!"))...)
	data = append(data, []byte("hello!!!")...)

	payload, err := box.Find(data, "mvhd")
	if err != nil {
		t.Fatalf("Find(mvhd): %v", err)
	}

	if string(payload) != "hello!!!" {
		t.Fatalf("unexpected payload: %q", payload)
	}

	if _, err := box.Find(data, "stsd"); !errors.Is(err, box.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByBytesNonASCII(t *testing.T) {
	t.Parallel()

	var data []byte
	// ©nam box: 0xA9 'n' 'a' 'm'.
	payload := []byte("My Title")
	size := 8 + len(payload)
	data = append(data,
		byte(size>>24), byte(size>>16), byte(size>>8), byte(size),
		0xA9, 'n', 'a', 'm',
	)
	data = append(data, payload...)

	found, info, err := box.FindByBytes(data, [4]byte{0xA9, 'n', 'a', 'm'})
	if err != nil {
		t.Fatalf("FindByBytes: %v", err)
	}

	if string(found) != "My Title" {
		t.Fatalf("unexpected payload: %q", found)
	}

	if info.FourCC() != "\xa9nam" {
		t.Fatalf("unexpected FourCC: %q", info.FourCC())
	}
}

func TestDescendMetaSkipsVersionFlags(t *testing.T) {
	t.Parallel()

	metaPayload := append([]byte{0, 0, 0, 0}, buildBox(t, "ilst", nil)...)

	children := box.DescendMeta(metaPayload)

	var found bool

	box.Iterate(children, func(info box.Info) bool {
		if info.FourCC() == "ilst" {
			found = true
		}

		return true
	})

	if !found {
		t.Fatalf("expected to find ilst after skipping meta's version/flags prefix")
	}
}

func TestExtendedSize64Bit(t *testing.T) {
	t.Parallel()

	payload := []byte("payload!")
	data := []byte{0, 0, 0, 1, 'm', 'v', 'h', 'd'}

	totalSize := uint64(16 + len(payload))
	data = append(data,
		byte(totalSize>>56), byte(totalSize>>48), byte(totalSize>>40), byte(totalSize>>32),
		byte(totalSize>>24), byte(totalSize>>16), byte(totalSize>>8), byte(totalSize),
	)
	data = append(data, payload...)

	found, info, err := box.FindRange(data, "mvhd")
	if err != nil {
		t.Fatalf("FindRange: %v", err)
	}

	if info.HeaderSize != 16 {
		t.Fatalf("expected 16-byte header, got %d", info.HeaderSize)
	}

	if string(found) != "payload!" {
		t.Fatalf("unexpected payload: %q", found)
	}
}
