// Package subtitle decodes timed-text sample data (tx3g, WebVTT, TTML, or
// a generic UTF-8/UTF-16 fallback) into SRT-style entries, and groups
// nearby sample byte ranges to minimize the number of range-request
// fetches a caller needs to issue.
//
// Ported from the original implementation's subtitles::parser and
// subtitles::utils: codec dispatch by FourCC, the fixed +2.0s end-time
// simplification (§9 — every entry gets a synthetic duration rather than
// tracking each format's native end-time signaling), and the gap-based
// range coalescing used to batch HTTP fetches.
package subtitle

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Entry is one decoded subtitle cue in SRT-formatted timecodes.
type Entry struct {
	Start string
	End   string
	Text  string
}

// fixedDuration is the synthetic cue duration applied to every decoded
// entry, documented as a lossy simplification: none of the supported
// sample formats carry an explicit end time once extracted in isolation.
const fixedDuration = 2.0

// ParseSampleData decodes one subtitle sample's raw bytes into zero or
// more entries, dispatching on codecType (the stsd FourCC of the
// subtitle track). An empty sample or one that fails to decode as text
// yields no entries and no error — subtitle decode failures are
// recoverable per-sample, not structural.
func ParseSampleData(data []byte, timestamp float64, codecType string) []Entry {
	if len(data) == 0 {
		return nil
	}

	switch codecType {
	case "tx3g":
		return parseTx3g(data, timestamp)
	case "wvtt":
		return parseWebVTT(data, timestamp)
	case "stpp":
		return parseTTML(data, timestamp)
	case "sbtl", "subt":
		return parseGeneric(data, timestamp)
	default:
		return parseGeneric(data, timestamp)
	}
}

func parseTx3g(data []byte, timestamp float64) []Entry {
	if len(data) < 2 {
		return nil
	}

	textLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if textLength == 0 || len(data) < 2+textLength {
		return nil
	}

	text := strings.TrimSpace(string(data[2 : 2+textLength]))
	if text == "" {
		return nil
	}

	return oneEntry(timestamp, text)
}

func parseWebVTT(data []byte, timestamp float64) []Entry {
	text := strings.TrimSpace(string(data))
	if text == "" || strings.HasPrefix(text, "WEBVTT") {
		return nil
	}

	return oneEntry(timestamp, text)
}

func parseTTML(data []byte, timestamp float64) []Entry {
	var b strings.Builder

	inTag := false

	for _, ch := range string(data) {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(ch)
			}
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil
	}

	return oneEntry(timestamp, text)
}

// parseGeneric tries UTF-8 first; if the bytes are not valid UTF-8 (or
// decode to an empty string) and have an even length, it falls back to
// big-endian UTF-16, the encoding QuickTime text tracks commonly use.
func parseGeneric(data []byte, timestamp float64) []Entry {
	if text := strings.TrimSpace(string(data)); text != "" && utf8.Valid(data) {
		return oneEntry(timestamp, text)
	}

	if len(data) >= 2 && len(data)%2 == 0 {
		decoder := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()

		decoded, err := decoder.Bytes(data)
		if err == nil {
			text := strings.TrimSpace(string(decoded))
			if text != "" {
				return oneEntry(timestamp, text)
			}
		}
	}

	return nil
}

func oneEntry(timestamp float64, text string) []Entry {
	return []Entry{{
		Start: FormatTimestamp(timestamp),
		End:   FormatTimestamp(timestamp + fixedDuration),
		Text:  text,
	}}
}

// FormatTimestamp renders seconds as an SRT timecode HH:MM:SS,mmm. NaN,
// infinite, or negative input formats as the zero timecode rather than
// propagating an error, matching the original's defensive clamp.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00:00,000"
	}

	totalMillis := uint64(seconds * 1000.0)
	millis := totalMillis % 1000
	totalSeconds := totalMillis / 1000
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// SampleRange identifies one subtitle sample's byte range within the
// source, paired with the presentation time used to decode it.
type SampleRange struct {
	Offset    uint64
	Size      uint32
	Timestamp float64
}

// GroupNearby groups sample ranges (assumed sorted by Offset) so that
// consecutive ranges separated by no more than maxGap bytes end up in the
// same group, letting a caller issue one coalesced fetch per group
// instead of one per sample.
func GroupNearby(ranges []SampleRange, maxGap uint64) [][]SampleRange {
	if len(ranges) == 0 {
		return nil
	}

	groups := [][]SampleRange{{ranges[0]}}

	for i := 1; i < len(ranges); i++ {
		prev := ranges[i-1]
		curr := ranges[i]

		gap := curr.Offset - (prev.Offset + uint64(prev.Size))

		last := len(groups) - 1
		if curr.Offset >= prev.Offset+uint64(prev.Size) && gap <= maxGap {
			groups[last] = append(groups[last], curr)
		} else {
			groups = append(groups, []SampleRange{curr})
		}
	}

	return groups
}
