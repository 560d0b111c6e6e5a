// Package stream provides random-access byte sources over a local file or an
// HTTP(S) origin that honors byte-range requests, with request/byte
// accounting and, for the HTTP variant, a small read-ahead cache.
package stream

import "io"

// SeekWhence mirrors io.Seeker's whence constants so callers need not import
// "io" just to seek a Source.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Source is a random-access byte stream of known length. It models a
// single-owner, non-concurrent transport: local file or HTTP(S) range
// requests. Short reads at EOF are legal; ReadExact reports
// io.ErrUnexpectedEOF only when the stream ends before the requested bytes
// have all been read.
type Source interface {
	io.Reader
	io.Seeker
	io.Closer

	// Len returns the total size of the stream in bytes.
	Len() (int64, error)

	// Stats returns the number of transport requests issued and the total
	// number of bytes fetched over the wire (or read from disk) so far.
	Stats() (requests, bytesFetched int64)
}

// ReadExact reads exactly len(buf) bytes from src, or returns an error
// wrapping io.ErrUnexpectedEOF if the stream runs out first.
func ReadExact(src Source, buf []byte) error {
	_, err := io.ReadFull(src, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF { //nolint:errorlint // io.ReadFull returns these sentinels directly
			return io.ErrUnexpectedEOF
		}

		return err
	}

	return nil
}

// ReadAt reads len(buf) bytes at absolute offset off without disturbing the
// logical notion of "current position" held by a higher-level caller: it
// saves and restores the position around the read.
func ReadAt(src Source, off int64, buf []byte) error {
	saved, err := src.Seek(0, SeekCurrent)
	if err != nil {
		return err
	}

	if _, err := src.Seek(off, SeekStart); err != nil {
		return err
	}

	readErr := ReadExact(src, buf)

	if _, err := src.Seek(saved, SeekStart); err != nil && readErr == nil {
		return err
	}

	return readErr
}
