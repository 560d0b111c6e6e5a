// Package thumbnail selects representative video samples, recovers their
// H.264 parameter sets, hands coded frames to a caller-supplied Decoder,
// and resizes/encodes whatever image comes back into a base64 JPEG data
// URL.
//
// Decoding compressed video is explicitly out of scope (spec.md §1/§6):
// the original implementation reaches for openh264 (thumbnails/decoder.rs)
// to do the actual YUV decode, a third-party black box this repository
// does not vendor. The Decoder interface below is that same boundary,
// generalized into a pluggable adapter so the rest of the pipeline —
// target-sample selection, parameter-set recovery, resize, encode — is
// fully testable without a real decoder.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/mycophonic/isoprobe/avc"
)

// ErrDecoderNotConfigured is returned by nopDecoder.Decode, mirroring the
// teacher's aac.Decode stub that returns ErrNotSupported when built
// without a real CoreAudio backend.
var ErrDecoderNotConfigured = errors.New("thumbnail: no decoder configured")

// Decoder adapts a real H.264 decoder (e.g. cgo libavcodec, openh264, or
// a pure-Go implementation) to the thumbnail pipeline.
type Decoder interface {
	// Init primes the decoder with a track's out-of-band SPS/PPS.
	Init(sps, pps []byte) error
	// Decode feeds one Annex-B-formatted coded frame (start-code
	// delimited, parameter sets excluded) and returns the decoded image,
	// or ok=false if the frame produced no displayable picture.
	Decode(annexBFrame []byte) (img image.Image, ok bool, err error)
	Close() error
}

// nopDecoder is the zero-value Decoder: every Decode call fails. It
// exists so the pipeline type-checks and is constructible without a real
// backend; callers embedding isoprobe must supply their own Decoder.
type nopDecoder struct{}

func (nopDecoder) Init(_, _ []byte) error { return nil }

func (nopDecoder) Decode(_ []byte) (image.Image, bool, error) {
	return nil, false, ErrDecoderNotConfigured
}

func (nopDecoder) Close() error { return nil }

// NopDecoder returns a Decoder whose Decode always fails with
// ErrDecoderNotConfigured; useful as a safe default and in tests that
// only exercise selection/resize logic.
func NopDecoder() Decoder { return nopDecoder{} }

// Data is one generated thumbnail: an encoded JPEG wrapped as a base64
// data URL, the source sample's presentation time, and the final
// (possibly downscaled) image dimensions.
type Data struct {
	Base64    string
	Timestamp float64
	Width     int
	Height    int
}

// TargetSamples chooses which 0-based sample indices to render into
// thumbnails, given count desired thumbnails, the track's sync-sample
// indices (0-based; nil means every sample is a sync sample, per
// sampletable.Table.SyncSamples), and the total sample count.
//
// If sync samples are present and there are at least count of them, pick
// count evenly spaced ones. If there are some but fewer than count, use
// all of them. If sync-sample information is entirely absent, distribute
// count indices evenly across [0, sampleCount).
func TargetSamples(syncSamples []int, sampleCount, count int) []int {
	if count <= 0 || sampleCount <= 0 {
		return nil
	}

	if syncSamples != nil {
		if len(syncSamples) >= count {
			step := len(syncSamples) / count
			if step == 0 {
				step = 1
			}

			targets := make([]int, 0, count)

			for i := range count {
				targets = append(targets, syncSamples[i*step])
			}

			return targets
		}

		return append([]int(nil), syncSamples...)
	}

	step := sampleCount / count
	if step == 0 {
		step = 1
	}

	targets := make([]int, 0, count)

	for i := range count {
		idx := i * step
		if idx >= sampleCount {
			break
		}

		targets = append(targets, idx)
	}

	return targets
}

// SampleRange is one target sample's byte range and presentation time,
// the unit the pipeline fetches and decodes.
type SampleRange struct {
	SampleIndex int
	Offset      uint64
	Size        uint32
	Timestamp   float64
}

// RecoverParameterSets returns the SPS/PPS a decoder needs, preferring an
// avcC configuration record when the track carried one. Failing that, it
// scans the first few downloaded samples (at most maxSamplesToScan) for
// in-band parameter sets, mirroring the original's
// extract_parameter_sets_from_samples fallback.
func RecoverParameterSets(avcc []byte, sampleData [][]byte) (sps, pps []byte, err error) {
	if len(avcc) > 0 {
		cfg, err := avc.ParseAVCC(avcc)
		if err == nil && cfg.IsValid() {
			return cfg.SPS[0], cfg.PPS[0], nil
		}
	}

	const maxSamplesToScan = 3

	for i := 0; i < len(sampleData) && i < maxSamplesToScan; i++ {
		sample := sampleData[i]

		nalus, extractErr := avc.ExtractLengthPrefixed(sample)
		if extractErr != nil {
			nalus = avc.ExtractAnnexB(sample)
		}

		for _, nalu := range nalus {
			switch nalu.Type {
			case avc.NaluSPS:
				if sps == nil {
					sps = nalu.Data
				}
			case avc.NaluPPS:
				if pps == nil {
					pps = nalu.Data
				}
			}
		}
	}

	if sps == nil || pps == nil {
		return nil, nil, fmt.Errorf("thumbnail: no SPS/PPS recovered from samples")
	}

	return sps, pps, nil
}

// toAnnexB rewrites a length-prefixed (or raw Annex B) sample as an
// Annex-B bytestream of its non-parameter-set NALUs, for handing to a
// Decoder whose parameter sets were already Init'd separately.
func toAnnexB(sample []byte) []byte {
	nalus, err := avc.ExtractLengthPrefixed(sample)
	if err != nil || len(nalus) == 0 {
		nalus = avc.ExtractAnnexB(sample)
	}

	var out bytes.Buffer

	for _, nalu := range nalus {
		if nalu.IsParameterSet() {
			continue
		}

		out.Write([]byte{0, 0, 0, 1})
		out.Write(nalu.Data)
	}

	return out.Bytes()
}

// Generate decodes each sample in ranges (paired 1:1 with sampleData) via
// decoder, resizes the result to fit within maxWidth x maxHeight
// preserving aspect ratio, and JPEG-encodes it as a base64 data URL.
// A sample that fails to decode is skipped, not fatal — generation stops
// once count thumbnails have been produced.
func Generate(decoder Decoder, ranges []SampleRange, sampleData [][]byte, count, maxWidth, maxHeight int) ([]Data, error) {
	var out []Data

	for i, r := range ranges {
		if len(out) >= count {
			break
		}

		if i >= len(sampleData) {
			break
		}

		frame := toAnnexB(sampleData[i])
		if len(frame) == 0 {
			continue
		}

		img, ok, err := decoder.Decode(frame)
		if err != nil || !ok {
			continue
		}

		resized := resizeToFit(img, maxWidth, maxHeight)

		encoded, err := encodeJPEGDataURL(resized)
		if err != nil {
			continue
		}

		bounds := resized.Bounds()

		out = append(out, Data{
			Base64:    encoded,
			Timestamp: r.Timestamp,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("thumbnail: no thumbnails could be generated")
	}

	return out, nil
}

// resizeToFit downscales img to fit within maxWidth x maxHeight using
// Catmull-Rom resampling, preserving aspect ratio; an image already within
// bounds is returned unchanged.
func resizeToFit(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= maxWidth && height <= maxHeight {
		return img
	}

	scale := float64(maxWidth) / float64(width)
	if alt := float64(maxHeight) / float64(height); alt < scale {
		scale = alt
	}

	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)

	if newWidth < 1 {
		newWidth = 1
	}

	if newHeight < 1 {
		newHeight = 1
	}

	// golang.org/x/image/draw exposes no Lanczos kernel; CatmullRom is its
	// highest-quality interpolator and the closest stand-in available in
	// the package actually used.
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}

const jpegQuality = 85

func encodeJPEGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("thumbnail: encoding JPEG: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
