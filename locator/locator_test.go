package locator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mycophonic/isoprobe/locator"
	"github.com/mycophonic/isoprobe/stream"
	"github.com/mycophonic/isoprobe/tests/testutils"
)

func moovBox(payload []byte) []byte {
	size := 8 + len(payload)
	data := []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size), 'm', 'o', 'o', 'v'}

	return append(data, payload...)
}

func ftypBox() []byte {
	payload := []byte("isomisom")
	size := 8 + len(payload)

	return append([]byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size), 'f', 't', 'y', 'p'}, payload...)
}

func TestLocateMoovAtOffsetZero(t *testing.T) {
	t.Parallel()

	data := moovBox([]byte("hello"))
	src := testutils.NewMemorySource(data)

	info, err := locator.Locate(context.Background(), src)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if info.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", info.Offset)
	}

	if info.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), info.Size)
	}
}

func TestLocateMoovAfterFtyp(t *testing.T) {
	t.Parallel()

	var data []byte
	data = append(data, ftypBox()...)
	data = append(data, moovBox([]byte("payload!"))...)
	// Pad to simulate a larger file so moov isn't trivially within the first
	// few bytes only by accident of a tiny fixture.
	data = append(data, make([]byte, 100)...)

	src := testutils.NewMemorySource(data)

	info, err := locator.Locate(context.Background(), src)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if info.Offset != int64(len(ftypBox())) {
		t.Fatalf("expected moov at offset %d, got %d", len(ftypBox()), info.Offset)
	}
}

func TestLocateMoovAtEndOfFile(t *testing.T) {
	t.Parallel()

	mdat := make([]byte, 20000)
	moov := moovBox([]byte("trailer"))

	data := append(mdat, moov...)

	src := testutils.NewMemorySource(data)

	info, err := locator.Locate(context.Background(), src)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if info.Offset != int64(len(mdat)) {
		t.Fatalf("expected moov at offset %d, got %d", len(mdat), info.Offset)
	}
}

func TestLocateNotFound(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	src := testutils.NewMemorySource(data)

	if _, err := locator.Locate(context.Background(), src); !errors.Is(err, locator.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocateRejectsOversizeMoov(t *testing.T) {
	t.Parallel()

	data := []byte{0x7F, 0xFF, 0xFF, 0xFF, 'm', 'o', 'o', 'v'}
	data = append(data, make([]byte, 100)...)

	src := testutils.NewMemorySource(data)

	if _, err := locator.Locate(context.Background(), src); !errors.Is(err, locator.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLocateMoovExtendedSize(t *testing.T) {
	t.Parallel()

	payload := []byte("hello")
	largesize := uint64(16 + len(payload)) // header(4)+type(4)+largesize(8) + payload

	header := []byte{0, 0, 0, 1, 'm', 'o', 'o', 'v'}
	for shift := 56; shift >= 0; shift -= 8 {
		header = append(header, byte(largesize>>shift))
	}

	data := append(header, payload...)

	src := testutils.NewMemorySource(data)

	info, err := locator.Locate(context.Background(), src)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if info.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", info.Offset)
	}

	if info.Size != int64(largesize) {
		t.Fatalf("expected extended size %d, got %d", largesize, info.Size)
	}
}

func TestLocateMoovExtendsToEOF(t *testing.T) {
	t.Parallel()

	payload := []byte("trailing payload, no explicit terminator")
	data := append([]byte{0, 0, 0, 0, 'm', 'o', 'o', 'v'}, payload...)

	src := testutils.NewMemorySource(data)

	info, err := locator.Locate(context.Background(), src)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if info.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", info.Offset)
	}

	if info.Size != int64(len(data)) {
		t.Fatalf("expected size to extend to EOF (%d), got %d", len(data), info.Size)
	}
}

var _ stream.Source = (*testutils.MemorySource)(nil)
