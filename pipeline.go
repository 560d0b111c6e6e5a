package isoprobe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	mp4lib "github.com/abema/go-mp4"
	"github.com/rs/zerolog/log"

	"github.com/mycophonic/isoprobe/box"
	"github.com/mycophonic/isoprobe/locator"
	"github.com/mycophonic/isoprobe/sampletable"
	"github.com/mycophonic/isoprobe/stream"
	"github.com/mycophonic/isoprobe/subtitle"
	"github.com/mycophonic/isoprobe/thumbnail"
	"github.com/mycophonic/isoprobe/udta"
)

// subtitleRangeGap and thumbnailRangeGap are the coalescing thresholds
// named in spec §5/§9: subtitle samples are typically small and dense
// (tighter gap tolerance would fragment a track into many fetches),
// video samples are larger and sparser once target-sample selection has
// thinned them down.
const (
	subtitleRangeGap = 4096
	thumbnailRangeGap = 1024

	maxSubtitleTracksScanned = 50
)

// Pipeline ties the box navigator (C), the sample-table model (D), the
// moov locator (E), and a seekable byte source (A) into the three
// public use-case operations named in spec §6. A zero-value Pipeline is
// ready to use: it opens local paths directly and URLs with a 30s-timeout
// *http.Client, and generates no thumbnails (NopDecoder) until a Decoder is
// set.
type Pipeline struct {
	// Client is used for http(s):// sources. nil selects a client with
	// the spec-mandated 30s per-request timeout.
	Client *http.Client
	// Decoder feeds the thumbnail pipeline's H.264 decode step (spec §6.1
	// decoder adapter boundary). nil behaves like thumbnail.NopDecoder,
	// so ExtractThumbnails produces no thumbnails until a real decoder is
	// supplied: MP4-family input that reaches the decode step fails with a
	// ThumbnailError, and non-MP4-family input yields nil and no error.
	Decoder thumbnail.Decoder
}

func (p *Pipeline) decoder() thumbnail.Decoder {
	if p.Decoder == nil {
		return thumbnail.NopDecoder()
	}

	return p.Decoder
}

// openSource opens source as a stream.Source: an http(s):// URL becomes
// an HTTPSource (HEAD on open), anything else is treated as a local
// filesystem path.
func (p *Pipeline) openSource(ctx context.Context, source string) (stream.Source, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		src, err := stream.OpenHTTP(ctx, source, p.Client)
		if err != nil {
			return nil, NewStreamError("open", err)
		}

		return src, nil
	}

	src, err := stream.OpenLocal(source)
	if err != nil {
		return nil, NewStreamError("open", err)
	}

	return src, nil
}

// ExtractMetadata implements the metadata pipeline (spec §4.F): detect
// format, and for the MP4 family locate+parse moov for duration, tags,
// and per-track stream summaries. Non-MP4-family input (including MP3,
// detected via ID3v2/frame-sync) yields just size+format, per spec §6.
func (p *Pipeline) ExtractMetadata(ctx context.Context, source string) (Metadata, error) {
	src, err := p.openSource(ctx, source)
	if err != nil {
		return Metadata{}, err
	}
	defer src.Close()

	size, err := src.Len()
	if err != nil {
		return Metadata{}, NewStreamError("len", err)
	}

	format, err := detectFormat(ctx, src)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{Size: size, Format: format}

	if !format.IsMP4Family() {
		return meta, nil
	}

	moovPayload, err := readMoov(ctx, src)
	if err != nil {
		return Metadata{}, err
	}

	if mvhd, _, err := box.FindRange(moovPayload, "mvhd"); err == nil {
		if duration, err := parseMvhdDuration(mvhd); err == nil {
			meta.Duration = &duration
		}
	}

	if udtaPayload, _, err := box.FindRange(moovPayload, "udta"); err == nil {
		tags := udta.ExtractTags(udtaPayload)
		assignTag(&meta.Title, tags.Title)
		assignTag(&meta.Artist, tags.Artist)
		assignTag(&meta.Album, tags.Album)
		assignTag(&meta.Copyright, tags.Copyright)
	}

	traks := findTraks(moovPayload)

	for i, trak := range traks {
		table, err := sampletable.Build(bytes.NewReader(moovPayload), trak)
		if err != nil {
			log.Warn().Err(err).Int("track", i).Msg("isoprobe: skipping unparsable track")

			continue
		}

		meta.Streams = append(meta.Streams, streamInfoFromTable(i, table))
	}

	return meta, nil
}

func assignTag(dst **string, value string) {
	if value == "" {
		return
	}

	*dst = &value
}

func streamInfoFromTable(index int, table *sampletable.Table) StreamInfo {
	info := StreamInfo{
		Index:    index,
		Kind:     streamKindFromHandler(table.HandlerType),
		Codec:    table.CodecFourCC,
		Width:    table.Width,
		Height:   table.Height,
		Channels: table.Channels,
	}

	if table.Language != nil && *table.Language != "" {
		info.Language = table.Language
	}

	return info
}

func streamKindFromHandler(handlerType string) StreamKind {
	switch handlerType {
	case "video":
		return StreamVideo
	case "audio":
		return StreamAudio
	case "subtitle":
		return StreamSubtitle
	default:
		return StreamUnknown
	}
}

// ExtractSubtitles implements the subtitle pipeline (spec §4.F): the
// first recognized subtitle track's samples are fetched in coalesced
// batches (gap <= subtitleRangeGap) and decoded per sample; a decode
// failure is logged and skipped rather than aborting the extraction.
// Non-MP4-family input, or MP4 input with no subtitle track, yields an
// empty slice and no error.
func (p *Pipeline) ExtractSubtitles(ctx context.Context, source string) ([]SubtitleEntry, error) {
	src, err := p.openSource(ctx, source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	format, err := detectFormat(ctx, src)
	if err != nil {
		return nil, err
	}

	if !format.IsMP4Family() {
		return nil, nil
	}

	moovPayload, err := readMoov(ctx, src)
	if err != nil {
		return nil, err
	}

	table, ok := firstTrackByKind(moovPayload, "subtitle", maxSubtitleTracksScanned)
	if !ok {
		return nil, nil
	}

	if table.SampleCount() == 0 {
		return nil, nil
	}

	timestamps := sampletable.BuildSampleTimestamps(table.Timescale, table.SttsEntries)

	ranges := make([]subtitle.SampleRange, 0, table.SampleCount())

	for n := range table.SampleCount() {
		offset, err := table.SampleOffset(n)
		if err != nil {
			return nil, NewMP4Error("subtitle sample offset", err)
		}

		size, err := table.SampleSize(n)
		if err != nil {
			return nil, NewMP4Error("subtitle sample size", err)
		}

		ts := 0.0
		if n < len(timestamps) {
			ts = timestamps[n]
		}

		ranges = append(ranges, subtitle.SampleRange{Offset: offset, Size: size, Timestamp: ts})
	}

	var entries []subtitle.Entry

	for _, group := range subtitle.GroupNearby(ranges, subtitleRangeGap) {
		data, err := fetchGroup(ctx, src, group[0].Offset, groupEnd(group))
		if err != nil {
			return nil, NewStreamError("fetching subtitle sample range", err)
		}

		base := group[0].Offset

		for _, r := range group {
			start := r.Offset - base
			sample := data[start : start+uint64(r.Size)]

			decoded := subtitle.ParseSampleData(sample, r.Timestamp, table.FourCC)
			if decoded == nil {
				log.Warn().Float64("timestamp", r.Timestamp).Msg("isoprobe: skipping undecodable subtitle sample")

				continue
			}

			entries = append(entries, decoded...)
		}
	}

	if len(entries) == 0 {
		return nil, NewSubtitleError("decode", fmt.Errorf("no subtitle sample decoded to text"))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })

	out := make([]SubtitleEntry, len(entries))
	for i, e := range entries {
		out[i] = SubtitleEntry{Start: e.Start, End: e.End, Text: e.Text}
	}

	return out, nil
}

// ExtractThumbnails implements the thumbnail pipeline (spec §4.F): the
// first video track's parameter sets are recovered from avcC (or, that
// failing, scanned out of the first few samples), count target samples
// are selected from stss (or evenly distributed absent one), fetched in
// coalesced batches (gap <= thumbnailRangeGap), and handed to p.Decoder.
func (p *Pipeline) ExtractThumbnails(
	ctx context.Context, source string, count, maxWidth, maxHeight int,
) ([]ThumbnailData, error) {
	src, err := p.openSource(ctx, source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	format, err := detectFormat(ctx, src)
	if err != nil {
		return nil, err
	}

	if !format.IsMP4Family() {
		return nil, nil
	}

	moovPayload, err := readMoov(ctx, src)
	if err != nil {
		return nil, err
	}

	table, ok := firstTrackByKind(moovPayload, "video", maxSubtitleTracksScanned)
	if !ok {
		return nil, NewThumbnailError("select track", fmt.Errorf("no video track found"))
	}

	if table.SampleCount() == 0 {
		return nil, NewThumbnailError("select samples", fmt.Errorf("track has no samples"))
	}

	targets := thumbnail.TargetSamples(table.SyncSamples, table.SampleCount(), count)
	if len(targets) == 0 {
		return nil, NewThumbnailError("select samples", fmt.Errorf("no sync samples and zero total samples"))
	}

	timestamps := sampletable.BuildSampleTimestamps(table.Timescale, table.SttsEntries)

	ranges := make([]thumbnail.SampleRange, 0, len(targets))

	for _, n := range targets {
		offset, err := table.SampleOffset(n)
		if err != nil {
			return nil, NewMP4Error("thumbnail sample offset", err)
		}

		size, err := table.SampleSize(n)
		if err != nil {
			return nil, NewMP4Error("thumbnail sample size", err)
		}

		ts := 0.0
		if n < len(timestamps) {
			ts = timestamps[n]
		}

		ranges = append(ranges, thumbnail.SampleRange{SampleIndex: n, Offset: offset, Size: size, Timestamp: ts})
	}

	sampleData, err := fetchThumbnailSamples(ctx, src, ranges)
	if err != nil {
		return nil, NewStreamError("fetching thumbnail sample range", err)
	}

	sps, pps, err := thumbnail.RecoverParameterSets(table.AVCC, sampleData)
	if err != nil {
		return nil, NewThumbnailError("recover parameter sets", err)
	}

	decoder := p.decoder()
	if err := decoder.Init(sps, pps); err != nil {
		return nil, NewThumbnailError("init decoder", err)
	}
	defer decoder.Close()

	results, err := thumbnail.Generate(decoder, ranges, sampleData, count, maxWidth, maxHeight)
	if err != nil {
		return nil, NewThumbnailError("generate", err)
	}

	out := make([]ThumbnailData, len(results))
	for i, d := range results {
		out[i] = ThumbnailData{Base64: d.Base64, Timestamp: d.Timestamp, Width: d.Width, Height: d.Height}
	}

	return out, nil
}

// fetchThumbnailSamples coalesces target sample ranges using the
// thumbnail-specific gap tolerance (spec §9) and returns one payload
// slice per range, in the same order as ranges.
func fetchThumbnailSamples(ctx context.Context, src stream.Source, ranges []thumbnail.SampleRange) ([][]byte, error) {
	asSubtitleRanges := make([]subtitle.SampleRange, len(ranges))
	for i, r := range ranges {
		asSubtitleRanges[i] = subtitle.SampleRange{Offset: r.Offset, Size: r.Size, Timestamp: r.Timestamp}
	}

	out := make([][]byte, 0, len(ranges))

	for _, group := range subtitle.GroupNearby(asSubtitleRanges, thumbnailRangeGap) {
		data, err := fetchGroup(ctx, src, group[0].Offset, groupEnd(group))
		if err != nil {
			return nil, err
		}

		base := group[0].Offset

		for _, r := range group {
			start := r.Offset - base
			out = append(out, data[start:start+uint64(r.Size)])
		}
	}

	return out, nil
}

func groupEnd(group []subtitle.SampleRange) uint64 {
	last := group[len(group)-1]

	return last.Offset + uint64(last.Size)
}

// fetchGroup reads the half-open byte range [start, end) from src as a
// single request, the coalesced-fetch step common to both the subtitle
// and thumbnail pipelines.
func fetchGroup(ctx context.Context, src stream.Source, start, end uint64) ([]byte, error) {
	buf := make([]byte, end-start)

	if err := readAtContext(ctx, src, int64(start), buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// ctxReader is implemented by stream.HTTPSource to thread cancellation
// through to the underlying GET; stream.LocalSource has no such hook, so
// readAtContext falls back to the context-agnostic stream.ReadAt.
type ctxReader interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

func readAtContext(ctx context.Context, src stream.Source, off int64, buf []byte) error {
	cr, ok := src.(ctxReader)
	if !ok {
		return stream.ReadAt(src, off, buf)
	}

	saved, err := src.Seek(0, stream.SeekCurrent)
	if err != nil {
		return err
	}

	if _, err := src.Seek(off, stream.SeekStart); err != nil {
		return err
	}

	total := 0
	for total < len(buf) {
		n, err := cr.ReadContext(ctx, buf[total:])
		total += n

		if err != nil {
			_, _ = src.Seek(saved, stream.SeekStart)

			return err
		}

		if n == 0 {
			break
		}
	}

	if _, err := src.Seek(saved, stream.SeekStart); err != nil {
		return err
	}

	if total < len(buf) {
		return io.ErrUnexpectedEOF
	}

	return nil
}

// readMoov locates the moov box (component E) and reads its full payload
// into memory, the one-time cost the sample-table model (component D)
// amortizes against for the lifetime of the pipeline call.
func readMoov(ctx context.Context, src stream.Source) ([]byte, error) {
	info, err := locator.Locate(ctx, src)
	if err != nil {
		return nil, NewMetadataError("locate moov", err)
	}

	buf := make([]byte, info.Size)
	if err := readAtContext(ctx, src, info.Offset, buf); err != nil {
		return nil, NewMetadataError("read moov", err)
	}

	headerSize := int(info.HeaderSize)
	if len(buf) < headerSize {
		return nil, NewMetadataError("read moov", fmt.Errorf("moov box shorter than its header"))
	}

	return buf[headerSize:], nil
}

// findTraks returns the BoxInfo of every direct "trak" child of moovPayload,
// in file order.
func findTraks(moovPayload []byte) []*mp4lib.BoxInfo {
	traks, err := mp4lib.ExtractBox(bytes.NewReader(moovPayload), nil, mp4lib.BoxPath{mp4lib.BoxTypeTrak()})
	if err != nil {
		return nil
	}

	return traks
}

// firstTrackByKind builds sample tables for moovPayload's trak children in
// order, stopping at the first one whose resolved handler type matches
// kind ("video", "audio", or "subtitle"), scanning at most maxTracks of
// them (spec §5 resource limit).
func firstTrackByKind(moovPayload []byte, kind string, maxTracks int) (*sampletable.Table, bool) {
	traks := findTraks(moovPayload)
	if len(traks) > maxTracks {
		traks = traks[:maxTracks]
	}

	for i, trak := range traks {
		table, err := sampletable.Build(bytes.NewReader(moovPayload), trak)
		if err != nil {
			log.Warn().Err(err).Int("track", i).Msg("isoprobe: skipping unparsable track")

			continue
		}

		if table.HandlerType == kind {
			return table, true
		}
	}

	return nil, false
}

// parseMvhdDuration reads mvhd's version-split time fields and returns
// duration_ticks / timescale in seconds.
func parseMvhdDuration(payload []byte) (float64, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("isoprobe: mvhd too short")
	}

	version := payload[0]

	var timescaleOffset, durationOffset int

	switch version {
	case 0:
		timescaleOffset = 12
		durationOffset = 16
	case 1:
		timescaleOffset = 20
		durationOffset = 24
	default:
		return 0, fmt.Errorf("isoprobe: unsupported mvhd version %d", version)
	}

	if len(payload) < durationOffset+4 {
		return 0, fmt.Errorf("isoprobe: mvhd truncated")
	}

	timescale := be32(payload, timescaleOffset)

	var duration uint64
	if version == 1 {
		if len(payload) < durationOffset+8 {
			return 0, fmt.Errorf("isoprobe: mvhd truncated")
		}

		duration = be64(payload, durationOffset)
	} else {
		duration = uint64(be32(payload, durationOffset))
	}

	if timescale == 0 {
		return 0, fmt.Errorf("isoprobe: mvhd timescale is zero")
	}

	return float64(duration) / float64(timescale), nil
}

func be32(data []byte, offset int) uint32 {
	return uint32(data[offset])<<24 | uint32(data[offset+1])<<16 | uint32(data[offset+2])<<8 | uint32(data[offset+3])
}

func be64(data []byte, offset int) uint64 {
	return uint64(be32(data, offset))<<32 | uint64(be32(data, offset+4))
}
