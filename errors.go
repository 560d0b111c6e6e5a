// Package isoprobe extracts container metadata, timed-text subtitles, and
// rendered thumbnails from ISO Base Media File Format containers (MP4, M4V,
// 3GP, 3G2, MOV) on a local filesystem or an HTTP(S) origin that honors
// byte-range requests.
package isoprobe

import "fmt"

// StreamError wraps a transport/IO failure: open, HEAD non-success, GET
// non-success other than 416, missing Content-Length, or premature EOF.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream: %s: %v", e.Op, e.Err) }
func (e *StreamError) Unwrap() error { return e.Err }

// NewStreamError wraps err as a StreamError tagged with the failing operation.
func NewStreamError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &StreamError{Op: op, Err: err}
}

// MetadataError wraps a format-detection or container-metadata failure.
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string { return fmt.Sprintf("metadata: %s: %v", e.Op, e.Err) }
func (e *MetadataError) Unwrap() error { return e.Err }

// NewMetadataError wraps err as a MetadataError tagged with the failing operation.
func NewMetadataError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &MetadataError{Op: op, Err: err}
}

// MP4Error wraps a box-level malformation: short header, oversize payload,
// entry-count mismatch, or a missing required child box.
type MP4Error struct {
	Op  string
	Err error
}

func (e *MP4Error) Error() string { return fmt.Sprintf("mp4: %s: %v", e.Op, e.Err) }
func (e *MP4Error) Unwrap() error { return e.Err }

// NewMP4Error wraps err as an MP4Error tagged with the failing operation.
func NewMP4Error(op string, err error) error {
	if err == nil {
		return nil
	}

	return &MP4Error{Op: op, Err: err}
}

// SubtitleError wraps an unrecoverable timed-text decode failure.
type SubtitleError struct {
	Op  string
	Err error
}

func (e *SubtitleError) Error() string { return fmt.Sprintf("subtitle: %s: %v", e.Op, e.Err) }
func (e *SubtitleError) Unwrap() error { return e.Err }

// NewSubtitleError wraps err as a SubtitleError tagged with the failing operation.
func NewSubtitleError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &SubtitleError{Op: op, Err: err}
}

// ThumbnailError wraps a thumbnail-pipeline failure: no sync samples and no
// samples at all, decoder initialization failure, or no NAL unit producing a
// decodable frame.
type ThumbnailError struct {
	Op  string
	Err error
}

func (e *ThumbnailError) Error() string { return fmt.Sprintf("thumbnail: %s: %v", e.Op, e.Err) }
func (e *ThumbnailError) Unwrap() error { return e.Err }

// NewThumbnailError wraps err as a ThumbnailError tagged with the failing operation.
func NewThumbnailError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &ThumbnailError{Op: op, Err: err}
}
