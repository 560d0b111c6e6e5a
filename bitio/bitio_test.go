package bitio_test

import (
	"errors"
	"testing"

	"github.com/mycophonic/isoprobe/bitio"
)

func TestReadBitsUnsigned(t *testing.T) {
	t.Parallel()

	// 0xB4 = 1011 0100
	r := bitio.NewBitReader([]byte{0xB4})

	if got := r.ReadBits(4); got != 0b1011 {
		t.Fatalf("first nibble: got %b, want 1011", got)
	}

	if got := r.ReadBits(4); got != 0b0100 {
		t.Fatalf("second nibble: got %b, want 0100", got)
	}

	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}

	if r.BitsRead() != 8 || r.BytesRead() != 1 {
		t.Fatalf("unexpected counters: bits=%d bytes=%d", r.BitsRead(), r.BytesRead())
	}
}

func TestReadBitsLatchesErrorPastEnd(t *testing.T) {
	t.Parallel()

	r := bitio.NewBitReader([]byte{0xFF})

	r.ReadBits(8)

	if got := r.ReadBits(1); got != 0 {
		t.Fatalf("expected 0 once latched, got %d", got)
	}

	if !errors.Is(r.Err(), bitio.ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", r.Err())
	}

	// Subsequent reads keep returning 0 without re-touching the buffer.
	if got := r.ReadBits(4); got != 0 {
		t.Fatalf("expected 0 on second read after latch, got %d", got)
	}
}

func TestReadSignedBits(t *testing.T) {
	t.Parallel()

	// 4-bit two's complement 1111 == -1.
	r := bitio.NewBitReader([]byte{0xF0})
	if got := r.ReadSignedBits(4); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}

	// Remaining nibble 0000 == 0.
	if got := r.ReadSignedBits(4); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestReadFlag(t *testing.T) {
	t.Parallel()

	r := bitio.NewBitReader([]byte{0x80})
	if !r.ReadFlag() {
		t.Fatalf("expected true for top bit set")
	}

	if r.ReadFlag() {
		t.Fatalf("expected false for next bit")
	}
}

func TestByteAlign(t *testing.T) {
	t.Parallel()

	r := bitio.NewBitReader([]byte{0xFF, 0xFF})

	r.ReadBits(8)

	if err := r.ByteAlign(); err != nil {
		t.Fatalf("expected byte-aligned reader, got %v", err)
	}

	r.ReadBits(1)

	if err := r.ByteAlign(); err == nil {
		t.Fatalf("expected non-byte-aligned error")
	}
}

func TestFixedWidthIntegers(t *testing.T) {
	t.Parallel()

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	if v, err := bitio.ReadUint8BE(data, 0); err != nil || v != 0x01 {
		t.Fatalf("ReadUint8BE: got %d, %v", v, err)
	}

	if v, err := bitio.ReadUint24BE(data, 0); err != nil || v != 0x010203 {
		t.Fatalf("ReadUint24BE: got %x, %v", v, err)
	}

	if v, err := bitio.ReadUint32BE(data, 0); err != nil || v != 0x01020304 {
		t.Fatalf("ReadUint32BE: got %x, %v", v, err)
	}

	if v, err := bitio.ReadUint64BE(data, 0); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64BE: got %x, %v", v, err)
	}

	if _, err := bitio.ReadUint32BE(data, 6); !errors.Is(err, bitio.ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer for out-of-range offset, got %v", err)
	}
}
