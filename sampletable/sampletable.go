// Package sampletable parses the per-track sample-table box family
// (stsc, stsz, stco/co64, stts, stss, mdhd, hdlr, stsd) into a queryable
// Table, and answers "where is sample N, how big is it, at what
// presentation time" for both video and subtitle tracks.
//
// stsc/stsz/stco/co64 are decoded through github.com/abema/go-mp4, the
// teacher's own MP4 box library, using the exact ExtractBox /
// ExtractBoxWithPayload call shape observed in alac/decode.go (the only
// place in the teacher tree that touches go-mp4 directly). Every other
// leaf box here — mdhd, hdlr, stts, stss, stsd — is hand-parsed against
// fixed byte offsets read the same way extractCookie in that file reads
// stsd: ExtractBox for the BoxInfo, then a manual seek-and-copy of its
// payload, because those box types' go-mp4 payload struct fields are
// not something this session can verify by compiling against the real
// module.
package sampletable

import (
	"fmt"
	"io"

	mp4lib "github.com/abema/go-mp4"

	"github.com/mycophonic/isoprobe/bitio"
	"github.com/mycophonic/isoprobe/box"
)

// StscEntry is one run-length entry of the sample-to-chunk table:
// starting at FirstChunk (1-based), each chunk holds SamplesPerChunk
// samples described by SampleDescriptionIndex.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// SttsEntry is one run-length entry of the time-to-sample table.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Table is the fully decoded sample-table tuple for a single track, named
// after spec's "per-track tuple" in its data model.
type Table struct {
	ChunkOffsets  []uint64
	SampleSizes   []uint32 // len == total sample count; constant-size stsz is expanded
	SampleToChunk []StscEntry
	SttsEntries   []SttsEntry
	// SyncSamples holds the 0-based indices of sync samples. Nil means
	// stss was absent and every sample is a sync sample.
	SyncSamples []int

	Timescale   uint32
	AVCC        []byte // raw avcC payload, if the stsd entry had one; nil otherwise
	FourCC      string // raw stsd sample-entry FourCC, e.g. "tx3g", "avc1"
	CodecFourCC string // human-readable codec name when FourCC is recognized, else == FourCC
	HandlerType string

	Width    *uint32
	Height   *uint32
	Channels *uint16
	Language *string // ISO 639-2/T, from mdhd
}

// SampleCount returns the total number of samples described by SampleSizes.
func (t *Table) SampleCount() int { return len(t.SampleSizes) }

// Build decodes the sample-table family nested under trak (a *mp4.BoxInfo
// for a single "trak" box, as returned by mp4.ExtractBox against "moov")
// into a Table.
func Build(rs io.ReadSeeker, trak *mp4lib.BoxInfo) (*Table, error) {
	t := &Table{}

	stbls, err := mp4lib.ExtractBox(rs, trak, mp4lib.BoxPath{
		mp4lib.BoxTypeMdia(), mp4lib.BoxTypeMinf(), mp4lib.BoxTypeStbl(),
	})
	if err != nil || len(stbls) == 0 {
		return nil, fmt.Errorf("sampletable: locating stbl: %w", err)
	}

	stbl := stbls[0]

	var hdlrType string

	if hdlrPayload, err := readBoxPayload(rs, trak, mp4lib.BoxPath{mp4lib.BoxTypeMdia(), mp4lib.BoxTypeHdlr()}); err == nil {
		hdlrType = handlerType(hdlrPayload)
	}

	t.HandlerType = resolveHandlerType(rs, trak, hdlrType)

	mdhdPayload, err := readBoxPayload(rs, trak, mp4lib.BoxPath{mp4lib.BoxTypeMdia(), mp4lib.BoxTypeMdhd()})
	if err != nil {
		return nil, fmt.Errorf("sampletable: locating mdhd: %w", err)
	}

	timescale, language, err := parseMdhd(mdhdPayload)
	if err != nil {
		return nil, fmt.Errorf("sampletable: mdhd: %w", err)
	}

	t.Timescale = timescale
	t.Language = &language

	if t.SampleToChunk, err = readStsc(rs, stbl); err != nil {
		return nil, fmt.Errorf("sampletable: stsc: %w", err)
	}

	if t.SampleSizes, err = readStsz(rs, stbl); err != nil {
		return nil, fmt.Errorf("sampletable: stsz: %w", err)
	}

	if t.ChunkOffsets, err = readChunkOffsets(rs, stbl); err != nil {
		return nil, fmt.Errorf("sampletable: %w", err)
	}

	sttsPayload, err := readBoxPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStts()})
	if err != nil {
		return nil, fmt.Errorf("sampletable: locating stts: %w", err)
	}

	if t.SttsEntries, err = parseStts(sttsPayload); err != nil {
		return nil, fmt.Errorf("sampletable: stts: %w", err)
	}

	if stssPayload, err := readBoxPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStss()}); err == nil {
		if t.SyncSamples, err = parseStss(stssPayload); err != nil {
			return nil, fmt.Errorf("sampletable: stss: %w", err)
		}
	}

	if stsdPayload, err := readBoxPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStsd()}); err == nil {
		if err := parseStsd(stsdPayload, t); err != nil {
			return nil, fmt.Errorf("sampletable: stsd: %w", err)
		}
	}

	return t, nil
}

// readBoxPayload locates the single box at path under parent and copies
// its payload into memory, the same seek-read pattern as the teacher's
// extractCookie.
func readBoxPayload(rs io.ReadSeeker, parent *mp4lib.BoxInfo, path mp4lib.BoxPath) ([]byte, error) {
	infos, err := mp4lib.ExtractBox(rs, parent, path)
	if err != nil || len(infos) == 0 {
		return nil, fmt.Errorf("%w: box not found", box.ErrNotFound)
	}

	info := infos[0]

	payloadSize := int64(info.Size - info.HeaderSize)
	data := make([]byte, payloadSize)

	if _, err := rs.Seek(int64(info.Offset+info.HeaderSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to box payload: %w", err)
	}

	if _, err := io.ReadFull(rs, data); err != nil {
		return nil, fmt.Errorf("reading box payload: %w", err)
	}

	return data, nil
}

// readChunkOffsets prefers stco, falling back to co64, yielding absolute
// file offsets widened to uint64 either way.
func readChunkOffsets(rs io.ReadSeeker, stbl *mp4lib.BoxInfo) ([]uint64, error) {
	if boxes, err := mp4lib.ExtractBoxWithPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStco()}); err == nil && len(boxes) > 0 {
		if stco, ok := boxes[0].Payload.(*mp4lib.Stco); ok {
			offsets := make([]uint64, len(stco.ChunkOffset))
			for i, off := range stco.ChunkOffset {
				offsets[i] = uint64(off)
			}

			return offsets, nil
		}
	}

	boxes, err := mp4lib.ExtractBoxWithPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeCo64()})
	if err != nil || len(boxes) == 0 {
		return nil, fmt.Errorf("%w: neither stco nor co64 present", box.ErrNotFound)
	}

	co64, ok := boxes[0].Payload.(*mp4lib.Co64)
	if !ok {
		return nil, fmt.Errorf("sampletable: invalid co64 payload")
	}

	return append([]uint64(nil), co64.ChunkOffset...), nil
}

func readStsc(rs io.ReadSeeker, stbl *mp4lib.BoxInfo) ([]StscEntry, error) {
	boxes, err := mp4lib.ExtractBoxWithPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStsc()})
	if err != nil || len(boxes) == 0 {
		return nil, fmt.Errorf("%w: stsc", box.ErrNotFound)
	}

	stsc, ok := boxes[0].Payload.(*mp4lib.Stsc)
	if !ok {
		return nil, fmt.Errorf("sampletable: invalid stsc payload")
	}

	entries := make([]StscEntry, len(stsc.Entries))
	for i, e := range stsc.Entries {
		entries[i] = StscEntry{
			FirstChunk:             e.FirstChunk,
			SamplesPerChunk:        e.SamplesPerChunk,
			SampleDescriptionIndex: e.SampleDescriptionIndex,
		}
	}

	return entries, nil
}

func readStsz(rs io.ReadSeeker, stbl *mp4lib.BoxInfo) ([]uint32, error) {
	boxes, err := mp4lib.ExtractBoxWithPayload(rs, stbl, mp4lib.BoxPath{mp4lib.BoxTypeStsz()})
	if err != nil || len(boxes) == 0 {
		return nil, fmt.Errorf("%w: stsz", box.ErrNotFound)
	}

	stsz, ok := boxes[0].Payload.(*mp4lib.Stsz)
	if !ok {
		return nil, fmt.Errorf("sampletable: invalid stsz payload")
	}

	if stsz.SampleSize != 0 {
		sizes := make([]uint32, stsz.SampleCount)
		for i := range sizes {
			sizes[i] = stsz.SampleSize
		}

		return sizes, nil
	}

	return append([]uint32(nil), stsz.EntrySize...), nil
}

func parseStts(payload []byte) ([]SttsEntry, error) {
	if len(payload) < 8 {
		return nil, bitio.ErrShortBuffer
	}

	count, err := bitio.ReadUint32BE(payload, 4)
	if err != nil {
		return nil, err
	}

	entries := make([]SttsEntry, 0, count)

	pos := 8
	for range count {
		sampleCount, err := bitio.ReadUint32BE(payload, pos)
		if err != nil {
			return nil, err
		}

		sampleDelta, err := bitio.ReadUint32BE(payload, pos+4)
		if err != nil {
			return nil, err
		}

		entries = append(entries, SttsEntry{SampleCount: sampleCount, SampleDelta: sampleDelta})
		pos += 8
	}

	return entries, nil
}

// parseStss returns the 0-based sync sample indices found in a present
// stss box. Callers only invoke this when the box was found; its absence
// (not merely an empty table) is what signals "every sample is a sync
// sample" and is handled by the caller leaving Table.SyncSamples nil.
func parseStss(payload []byte) ([]int, error) {
	if len(payload) < 8 {
		return nil, bitio.ErrShortBuffer
	}

	count, err := bitio.ReadUint32BE(payload, 4)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, count)

	pos := 8
	for range count {
		oneBased, err := bitio.ReadUint32BE(payload, pos)
		if err != nil {
			return nil, err
		}

		indices = append(indices, int(oneBased)-1)
		pos += 4
	}

	return indices, nil
}

// BuildSampleTimestamps expands run-length stts entries into cumulative
// presentation times in seconds, one per sample, monotonically
// nondecreasing by construction (each step adds a nonnegative delta).
func BuildSampleTimestamps(timescale uint32, entries []SttsEntry) []float64 {
	if timescale == 0 {
		timescale = 1
	}

	var total uint64

	for _, e := range entries {
		total += uint64(e.SampleCount)
	}

	timestamps := make([]float64, 0, total)

	var ticks uint64

	for _, e := range entries {
		for range e.SampleCount {
			timestamps = append(timestamps, float64(ticks)/float64(timescale))
			ticks += uint64(e.SampleDelta)
		}
	}

	return timestamps
}

// SampleOffset returns the absolute file offset of sample index n (0-based)
// by walking the expanded sample_to_chunk run that covers it, then summing
// the sizes of earlier samples in the same chunk.
func (t *Table) SampleOffset(n int) (uint64, error) {
	if n < 0 || n >= len(t.SampleSizes) {
		return 0, fmt.Errorf("sampletable: sample index %d out of range", n)
	}

	chunkIndex, sampleIndexInChunk, firstSampleOfChunk, err := t.locateChunk(n)
	if err != nil {
		return 0, err
	}

	if chunkIndex < 0 || chunkIndex >= len(t.ChunkOffsets) {
		return 0, fmt.Errorf("sampletable: chunk index %d out of range", chunkIndex)
	}

	offset := t.ChunkOffsets[chunkIndex]

	for i := firstSampleOfChunk; i < firstSampleOfChunk+sampleIndexInChunk; i++ {
		offset += uint64(t.SampleSizes[i])
	}

	return offset, nil
}

// SampleSize returns the size in bytes of sample index n (0-based).
func (t *Table) SampleSize(n int) (uint32, error) {
	if n < 0 || n >= len(t.SampleSizes) {
		return 0, fmt.Errorf("sampletable: sample index %d out of range", n)
	}

	return t.SampleSizes[n], nil
}

// locateChunk finds which chunk (0-based) sample n falls in, and how many
// samples into that chunk it is, by walking the run-length stsc entries.
func (t *Table) locateChunk(n int) (chunkIndex, sampleIndexInChunk, firstSampleOfChunk int, err error) {
	sampleCursor := 0

	for i, entry := range t.SampleToChunk {
		var chunksInRun int

		if i+1 < len(t.SampleToChunk) {
			chunksInRun = int(t.SampleToChunk[i+1].FirstChunk - entry.FirstChunk)
		} else {
			chunksInRun = len(t.ChunkOffsets) - int(entry.FirstChunk) + 1
		}

		samplesPerChunk := int(entry.SamplesPerChunk)

		for c := range chunksInRun {
			chunkFirstSample := sampleCursor

			if n < sampleCursor+samplesPerChunk {
				return int(entry.FirstChunk) - 1 + c, n - chunkFirstSample, chunkFirstSample, nil
			}

			sampleCursor += samplesPerChunk
		}
	}

	return 0, 0, 0, fmt.Errorf("sampletable: sample index %d not covered by any stsc run", n)
}

func handlerType(hdlrPayload []byte) string {
	if len(hdlrPayload) < 12 {
		return ""
	}

	switch string(hdlrPayload[8:12]) {
	case "vide":
		return "video"
	case "soun":
		return "audio"
	case "sbtl", "text", "subt":
		return "subtitle"
	default:
		return "unknown"
	}
}

// subtitleMarkers are the minf child box names producers have been
// observed to carry on a subtitle track whose hdlr handler type is
// missing or unrecognized.
var subtitleMarkers = []string{"sbtl", "subt", "text"}

// resolveHandlerType trusts a recognized hdlr handler type outright; only
// when hdlr was missing or unrecognized does it fall back to checking
// minf for a subtitle-track marker box, mirroring producers that omit a
// standard handler type on timed-text tracks.
func resolveHandlerType(rs io.ReadSeeker, trak *mp4lib.BoxInfo, hdlrType string) string {
	if hdlrType == "video" || hdlrType == "audio" || hdlrType == "subtitle" {
		return hdlrType
	}

	minfPayload, err := readBoxPayload(rs, trak, mp4lib.BoxPath{mp4lib.BoxTypeMdia(), mp4lib.BoxTypeMinf()})
	if err != nil {
		return hdlrType
	}

	for _, marker := range subtitleMarkers {
		if _, _, err := box.FindRange(minfPayload, marker); err == nil {
			return "subtitle"
		}
	}

	return hdlrType
}

// parseMdhd reads the track timescale and packed ISO 639-2/T language code,
// handling the version 0 (32-bit) / version 1 (64-bit) time-field split.
func parseMdhd(payload []byte) (timescale uint32, language string, err error) {
	if len(payload) < 4 {
		return 0, "", bitio.ErrShortBuffer
	}

	version := payload[0]

	var timescaleOffset, languageOffset int

	switch version {
	case 0:
		// version(1)+flags(3)+creation(4)+modification(4)+timescale(4)
		timescaleOffset = 12
		languageOffset = 20
	case 1:
		// version(1)+flags(3)+creation(8)+modification(8)+timescale(4)
		// +duration(8)
		timescaleOffset = 20
		languageOffset = 32
	default:
		return 0, "", fmt.Errorf("sampletable: unsupported mdhd version %d", version)
	}

	timescale, err = bitio.ReadUint32BE(payload, timescaleOffset)
	if err != nil {
		return 0, "", err
	}

	packed, err := readUint16BE(payload, languageOffset)
	if err != nil {
		return 0, "", err
	}

	return timescale, decodeLanguage(packed), nil
}

// decodeLanguage unpacks mdhd's (pad:1, c1:5, c2:5, c3:5) language field;
// zero decodes to "und" per spec.
func decodeLanguage(packed uint16) string {
	if packed == 0 {
		return "und"
	}

	c1 := byte((packed>>10)&0x1F) + 0x60
	c2 := byte((packed>>5)&0x1F) + 0x60
	c3 := byte(packed&0x1F) + 0x60

	return string([]byte{c1, c2, c3})
}

func readUint16BE(data []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(data) {
		return 0, bitio.ErrShortBuffer
	}

	return uint16(data[offset])<<8 | uint16(data[offset+1]), nil
}

// codecNames maps stsd sample-entry FourCCs to human-readable codec names.
var codecNames = map[string]string{
	"avc1": "H.264/AVC",
	"avc3": "H.264/AVC",
	"hev1": "H.265/HEVC",
	"hvc1": "H.265/HEVC",
	"mp4a": "AAC",
	"tx3g": "3GPP Timed Text",
	"wvtt": "WebVTT",
	"stpp": "TTML",
}

// videoFourCCPastOffset is the number of bytes a video sample entry skips
// past its FourCC before width/height: 6 (reserved) + 2
// (data_reference_index) + 4 (version/revision) + 4 (vendor) + 8
// (temporal/spatial quality) = 24, per spec's stsd-offset note.
const videoFourCCPastOffset = 24

// audioChannelCountPastOffset mirrors the same sample-entry header (6
// reserved + 2 data_reference_index = 8) plus version(2)+revision(2)+
// vendor(4) = 8, landing on the channel_count field.
const audioChannelCountPastOffset = 16

// parseStsd reads the first sample-description entry's FourCC (at payload
// offset 12) and, for recognized video/audio entries, their fixed-offset
// geometry fields; it also recovers an embedded avcC if present.
func parseStsd(payload []byte, t *Table) error {
	if len(payload) < 16 {
		return bitio.ErrShortBuffer
	}

	fourCC := string(payload[12:16])
	t.FourCC = fourCC
	t.CodecFourCC = fourCC

	if name, ok := codecNames[fourCC]; ok {
		t.CodecFourCC = name
	}

	entryPayload := payload[8:] // the single sample-entry box, size+fourcc included

	switch fourCC {
	case "avc1", "avc3":
		widthOffset := 8 + videoFourCCPastOffset
		heightOffset := widthOffset + 2

		if width, err := readUint16BE(entryPayload, widthOffset); err == nil {
			w := uint32(width)
			t.Width = &w
		}

		if height, err := readUint16BE(entryPayload, heightOffset); err == nil {
			h := uint32(height)
			t.Height = &h
		}

		// avcC is nested inside the VisualSampleEntry, past its 8-byte box
		// header and 78-byte fixed sample-entry fields (8+6+2+70=86), not a
		// sibling of it — box.FindRange only walks the boxes that follow
		// that offset, which is where avcC (and any other extension box)
		// actually starts.
		const visualSampleEntryFixedSize = 86
		if len(entryPayload) > visualSampleEntryFixedSize {
			if avcc, _, err := box.FindRange(entryPayload[visualSampleEntryFixedSize:], "avcC"); err == nil {
				t.AVCC = append([]byte(nil), avcc...)
			}
		}
	case "mp4a":
		channelOffset := 8 + audioChannelCountPastOffset

		if channels, err := readUint16BE(entryPayload, channelOffset); err == nil {
			t.Channels = &channels
		}
	}

	return nil
}
