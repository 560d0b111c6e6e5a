package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// cacheSize is the read-ahead cache's fixed size: a design constant, not a
// tunable (spec §5 resource limits).
const cacheSize = 4096

// requestTimeout bounds every individual HEAD/GET round trip.
const requestTimeout = 30 * time.Second

var (
	errNoContentLength = errors.New("stream: Content-Length header missing or invalid")
	errBadStatus       = errors.New("stream: unexpected HTTP status")
)

// HTTPSource is a Source backed by HTTP(S) range requests against a single
// URL. Content-Length is discovered once via HEAD on Open. Reads issue
// Range: bytes=lo-hi GETs; a 416 response is not an error, it yields zero
// bytes so callers can detect "past end of stream". A small read-ahead
// cache sits in front of small reads; large reads bypass it entirely.
type HTTPSource struct {
	url    string
	client *http.Client

	position int64
	length   *int64

	cache         [cacheSize]byte
	cachePosition int64
	cacheCount    int

	requests     int64
	bytesFetched int64
}

// OpenHTTP issues a HEAD request against url to discover its length and
// returns a ready-to-use Source. client may be nil, in which case a client
// with the spec-mandated 30s per-request timeout is used.
func OpenHTTP(ctx context.Context, url string, client *http.Client) (*HTTPSource, error) {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	src := &HTTPSource{url: url, client: client}

	if _, err := src.contentLength(ctx); err != nil {
		return nil, err
	}

	return src, nil
}

func (s *HTTPSource) contentLength(ctx context.Context) (int64, error) {
	if s.length != nil {
		return *s.length, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building HEAD request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	s.requests++

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: HEAD %s: %s", errBadStatus, s.url, resp.Status)
	}

	length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, errNoContentLength
	}

	s.length = &length

	return length, nil
}

// Read implements io.Reader against the current logical position, the
// read-ahead cache, the direct range-fetch path.
func (s *HTTPSource) Read(buf []byte) (int, error) {
	return s.readContext(context.Background(), buf)
}

// ReadContext is like Read but threads ctx through to the underlying HTTP
// request(s), so a caller can cancel or bound an in-flight fetch.
func (s *HTTPSource) ReadContext(ctx context.Context, buf []byte) (int, error) {
	return s.readContext(ctx, buf)
}

func (s *HTTPSource) readContext(ctx context.Context, buf []byte) (int, error) {
	start := s.position

	offset, remaining := 0, len(buf)

	got := s.fillFromCache(buf, &offset, &remaining)
	s.position += int64(got)

	switch {
	case remaining > cacheSize:
		n, err := s.fetchRange(ctx, buf[offset:offset+remaining])
		s.position += int64(n)

		if err != nil {
			return int(s.position - start), err
		}
	case remaining > 0:
		s.cachePosition = s.position

		n, err := s.fetchRange(ctx, s.cache[:])
		s.cacheCount = n

		if err != nil {
			return int(s.position - start), err
		}

		got = s.fillFromCache(buf, &offset, &remaining)
		s.position += int64(got)
	}

	total := int(s.position - start)
	if total == 0 && len(buf) > 0 {
		return 0, io.EOF
	}

	return total, nil
}

// fillFromCache copies whatever of buf[*offset:*offset+*remaining] the
// current cache window can satisfy, advancing offset/remaining and
// returning the number of bytes copied.
func (s *HTTPSource) fillFromCache(buf []byte, offset, remaining *int) int {
	if s.cachePosition > s.position || s.cachePosition+int64(s.cacheCount) <= s.position {
		return 0
	}

	cacheOffset := int(s.position - s.cachePosition)

	n := s.cacheCount - cacheOffset
	if n > *remaining {
		n = *remaining
	}

	copy(buf[*offset:*offset+n], s.cache[cacheOffset:cacheOffset+n])
	*offset += n
	*remaining -= n

	return n
}

// fetchRange issues one GET for len(buf) bytes starting at s.position,
// clamped to the known content length, and copies the response into buf.
func (s *HTTPSource) fetchRange(ctx context.Context, buf []byte) (int, error) {
	want := len(buf)

	if s.length != nil {
		if s.position >= *s.length {
			return 0, nil
		}

		if s.position+int64(want) > *s.length {
			want = int(*s.length - s.position)
		}
	}

	if want == 0 {
		return 0, nil
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", s.position, s.position+int64(want)-1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building GET request: %w", err)
	}

	req.Header.Set("Range", rangeHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s (%s): %w", s.url, rangeHeader, err)
	}
	defer resp.Body.Close()

	s.requests++

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return 0, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: GET %s: %s", errBadStatus, s.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, buf[:want])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading response body: %w", err)
	}

	s.bytesFetched += int64(n)

	return n, nil
}

// Seek implements io.Seeker. It never issues a network request except to
// resolve io.SeekEnd, which needs the (already-known, HEAD-discovered)
// content length.
func (s *HTTPSource) Seek(offset int64, whence int) (int64, error) {
	var newPosition int64

	switch whence {
	case SeekStart:
		newPosition = offset
	case SeekCurrent:
		newPosition = s.position + offset
	case SeekEnd:
		length, err := s.contentLength(context.Background())
		if err != nil {
			return 0, err
		}

		newPosition = length + offset
	default:
		return 0, fmt.Errorf("stream: invalid whence %d", whence)
	}

	if newPosition < 0 {
		newPosition = 0
	}

	s.position = newPosition

	return s.position, nil
}

// Close is a no-op: HTTPSource holds no persistent connection of its own
// beyond the shared *http.Client.
func (s *HTTPSource) Close() error { return nil }

// Len returns the content length discovered at Open.
func (s *HTTPSource) Len() (int64, error) {
	if s.length == nil {
		return s.contentLength(context.Background())
	}

	return *s.length, nil
}

// Stats returns the running HTTP request count and total bytes fetched over
// the wire, monotonically increasing for the life of the source.
func (s *HTTPSource) Stats() (requests, bytesFetched int64) {
	return s.requests, s.bytesFetched
}
