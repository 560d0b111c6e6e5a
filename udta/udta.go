// Package udta extracts iTunes/QuickTime-style tag metadata (title,
// artist, album, copyright) from an ISO-BMFF udta box, following the
// original implementation's ordered fallback chain: a tag box may carry
// its text inside a nested data atom, as raw bytes at one of several
// guessed header-skip offsets, or as a QuickTime "simple box" with a
// leading size field.
package udta

import (
	"strings"

	"github.com/mycophonic/isoprobe/box"
)

// Tags holds whatever title/artist/album/copyright text could be
// recovered from a udta box; any field may be empty.
type Tags struct {
	Title     string
	Artist    string
	Album     string
	Copyright string
}

// nam/art/alb are the iTunes ilst tag FourCCs, each prefixed with the
// copyright-sign byte 0xA9 — not valid ASCII, so they cannot be looked up
// through box.Find and must be matched by raw bytes.
var (
	nameTag   = [4]byte{0xA9, 'n', 'a', 'm'}
	artistTag = [4]byte{0xA9, 'A', 'R', 'T'}
	albumTag  = [4]byte{0xA9, 'a', 'l', 'b'}
)

// ExtractTags walks udtaPayload → meta → ilst and pulls out the four
// recognized tags. When no title was found there, it falls back to the
// QuickTime-direct and common alternate title-tag forms; artist, album and
// copyright have no such fallback.
func ExtractTags(udtaPayload []byte) Tags {
	var tags Tags

	if ilst, ok := findIlst(udtaPayload); ok {
		if title, ok := extractTextFromDataBox(ilst, nameTag); ok {
			tags.Title = title
		}

		if artist, ok := extractTextFromDataBox(ilst, artistTag); ok {
			tags.Artist = artist
		}

		if album, ok := extractTextFromDataBox(ilst, albumTag); ok {
			tags.Album = album
		}

		if cprt, _, err := box.FindRange(ilst, "cprt"); err == nil {
			if text, ok := extractTextFromDataAtomOrRaw(cprt); ok {
				tags.Copyright = text
			}
		}
	}

	if tags.Title == "" {
		tags.Title = extractTitleFallback(udtaPayload)
	}

	return tags
}

func findIlst(udtaPayload []byte) ([]byte, bool) {
	meta, _, err := box.FindRange(udtaPayload, "meta")
	if err != nil {
		return nil, false
	}

	metaPayload := box.DescendMeta(meta)
	if metaPayload == nil {
		metaPayload = meta
	}

	ilst, _, err := box.FindRange(metaPayload, "ilst")
	if err != nil {
		return nil, false
	}

	return ilst, true
}

// extractTextFromDataBox finds a tag box matching target inside ilst and
// decodes its text, trying the nested data-atom form first and the raw
// fallback forms second.
func extractTextFromDataBox(ilst []byte, target [4]byte) (string, bool) {
	tagBox, _, err := box.FindByBytes(ilst, target)
	if err != nil {
		return "", false
	}

	return extractTextFromDataAtomOrRaw(tagBox)
}

func extractTextFromDataAtomOrRaw(tagBox []byte) (string, bool) {
	if data, _, err := box.FindRange(tagBox, "data"); err == nil {
		if text, ok := extractTextFromDataAtom(data); ok {
			return text, true
		}
	}

	if text, ok := extractTextFromRawData(tagBox); ok {
		return text, true
	}

	return extractTextFromSimpleBox(tagBox)
}

// extractTextFromDataAtom strips a data atom's 4-byte type-indicator and
// 4-byte locale (or, if too short for that, only a 4-byte header) before
// decoding the remainder as UTF-8.
func extractTextFromDataAtom(data []byte) (string, bool) {
	switch {
	case len(data) > 8:
		return cleanString(data[8:])
	case len(data) > 4:
		return cleanString(data[4:])
	default:
		return "", false
	}
}

// extractTextFromRawData recognizes two common raw-tag header shapes
// (an 8-byte iTunes-style type-indicator + locale pair, or a 4-byte
// all-zero prefix) before falling back to the simple-box decode.
func extractTextFromRawData(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}

	start := 0

	switch {
	case len(data) >= 8 &&
		data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 &&
		data[4] == 0 && data[5] == 0 && data[6] == 0 && data[7] == 0:
		start = 8
	case data[0] == 0 && data[1] == 0 && data[2] == 0:
		start = 4
	}

	if start < len(data) {
		return cleanString(data[start:])
	}

	return extractTextFromSimpleBox(data)
}

// extractTextFromSimpleBox tries a leading-size-prefixed QuickTime-style
// decode, then plain UTF-8, then UTF-8 at a series of guessed header
// skips — the producer-variation fallback chain spec calls out by name.
func extractTextFromSimpleBox(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}

	size := int(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
	if size > 4 && size <= len(data) {
		if text, ok := cleanString(data[4:size]); ok {
			return text, true
		}
	}

	if text, ok := cleanString(data); ok {
		return text, true
	}

	for _, skip := range []int{0, 2, 4, 8, 16} {
		if len(data) <= skip {
			continue
		}

		trimmed := strings.TrimSpace(strings.Trim(string(data[skip:]), "\x00"))
		if len(trimmed) > 2 {
			return trimmed, true
		}
	}

	return "", false
}

func cleanString(data []byte) (string, bool) {
	trimmed := strings.TrimSpace(strings.Trim(string(data), "\x00"))
	if trimmed == "" {
		return "", false
	}

	return trimmed, true
}

// extractTitleFallback covers the QuickTime-direct layout (a bare ©nam
// box directly under udta, no meta/ilst wrapper) and a few alternate
// ASCII title tag names some producers use instead.
func extractTitleFallback(udtaPayload []byte) string {
	if titleBox, _, err := box.FindByBytes(udtaPayload, nameTag); err == nil {
		if text, ok := extractTextFromSimpleBox(titleBox); ok {
			return text
		}
	}

	for _, tag := range []string{"name", "titl", "TITL"} {
		if titleBox, _, err := box.FindRange(udtaPayload, tag); err == nil {
			if text, ok := extractTextFromSimpleBox(titleBox); ok {
				return text
			}
		}
	}

	return ""
}
