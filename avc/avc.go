// Package avc extracts and classifies H.264 NAL units from either Annex B
// bytestreams (start-code delimited) or ISO-BMFF sample format (4-byte
// length prefixed), and parses the AVCDecoderConfigurationRecord (avcC)
// box that carries a track's out-of-band SPS/PPS.
//
// The extraction and classification logic is ported from the original
// implementation's avc::nalus and avc::avc_type modules, and the avcC
// parser from mp4::avcc — same field order, same bounds checks, adapted
// to Go's multi-value error returns instead of a custom Result type. The
// sub-byte fields here (the NALU header's type bits, avcC's
// lengthSizeMinusOne/numSPS) are the bit-precise parsing component B
// exists for, so they go through bitio.BitReader rather than hand-rolled
// shifts and masks.
package avc

import (
	"errors"
	"fmt"

	"github.com/mycophonic/isoprobe/bitio"
)

// NaluType classifies a NAL unit by its header byte's low 5 bits.
type NaluType int

const (
	NaluOther NaluType = iota
	NaluNonIDR
	NaluIDR
	NaluSEI
	NaluSPS
	NaluPPS
	NaluAUD
	NaluEndOfSequence
	NaluEndOfStream
	NaluFill
)

// classify maps a NAL unit header's low 5 bits (nal_unit_type, past the
// forbidden_zero_bit and the 2-bit nal_ref_idc) to a NaluType. Called once
// per NAL unit found by the extractors below.
func classify(headerByte byte) NaluType {
	r := bitio.NewBitReader([]byte{headerByte})
	r.ReadBits(3) // forbidden_zero_bit(1) + nal_ref_idc(2)

	switch r.ReadBits(5) {
	case 1:
		return NaluNonIDR
	case 5:
		return NaluIDR
	case 6:
		return NaluSEI
	case 7:
		return NaluSPS
	case 8:
		return NaluPPS
	case 9:
		return NaluAUD
	case 10:
		return NaluEndOfSequence
	case 11:
		return NaluEndOfStream
	case 12:
		return NaluFill
	default:
		return NaluOther
	}
}

// Nalu is one classified NAL unit and its raw payload (header byte
// included, start code / length prefix stripped).
type Nalu struct {
	Type NaluType
	Data []byte
}

// IsVideo reports whether this NALU carries coded video slice data
// (a non-IDR or IDR slice), as opposed to parameter sets or SEI metadata.
func (n Nalu) IsVideo() bool { return n.Type == NaluNonIDR || n.Type == NaluIDR }

// IsParameterSet reports whether this NALU is an SPS or PPS.
func (n Nalu) IsParameterSet() bool { return n.Type == NaluSPS || n.Type == NaluPPS }

func newNalu(data []byte) (Nalu, bool) {
	if len(data) == 0 {
		return Nalu{}, false
	}

	return Nalu{Type: classify(data[0]), Data: data}, true
}

// ErrMalformedSample is returned by ExtractLengthPrefixed when a declared
// NAL length runs past the end of the sample.
var ErrMalformedSample = errors.New("avc: malformed length-prefixed sample")

// ExtractLengthPrefixed parses ISO-BMFF sample-format data: a sequence of
// 4-byte big-endian length prefixes each followed by that many bytes of
// NAL unit payload. A truncated length field or an out-of-range length is
// a hard error — unlike the Annex B scanner, there is no recovery path
// for malformed length-prefixed input.
func ExtractLengthPrefixed(sample []byte) ([]Nalu, error) {
	if len(sample) < 4 {
		return nil, fmt.Errorf("%w: sample shorter than one length prefix", ErrMalformedSample)
	}

	var nalus []Nalu

	pos := 0
	for pos+4 <= len(sample) {
		length := int(uint32(sample[pos])<<24 | uint32(sample[pos+1])<<16 | uint32(sample[pos+2])<<8 | uint32(sample[pos+3]))
		pos += 4

		if pos+length > len(sample) {
			return nil, fmt.Errorf("%w: length %d overruns sample", ErrMalformedSample, length)
		}

		if nalu, ok := newNalu(sample[pos : pos+length]); ok {
			nalus = append(nalus, nalu)
		}

		pos += length
	}

	if pos != len(sample) {
		return nil, fmt.Errorf("%w: %d trailing bytes too short for a length prefix", ErrMalformedSample, len(sample)-pos)
	}

	return nalus, nil
}

// ExtractAnnexB scans an Annex B bytestream for 3-byte (0x000001) and
// 4-byte (0x00000001) start codes, splitting the data between them into
// NAL units. Trailing zero bytes before the next start code (or EOF) are
// stripped from each unit, matching the trailing-zero-padding tolerance
// producers commonly emit. Malformed input yields fewer or zero NAL units
// rather than an error — this scanner never fails.
func ExtractAnnexB(stream []byte) []Nalu {
	var nalus []Nalu

	pos := 0

	currStart := -1

	flush := func(end int) {
		if currStart < 0 {
			return
		}

		for end > currStart && stream[end-1] == 0 {
			end--
		}

		if nalu, ok := newNalu(stream[currStart:end]); ok {
			nalus = append(nalus, nalu)
		}
	}

	for pos+3 <= len(stream) {
		switch {
		case pos+4 <= len(stream) && stream[pos] == 0 && stream[pos+1] == 0 && stream[pos+2] == 0 && stream[pos+3] == 1:
			flush(pos)

			currStart = pos + 4
			pos += 4

			continue
		case stream[pos] == 0 && stream[pos+1] == 0 && stream[pos+2] == 1:
			flush(pos)

			currStart = pos + 3
			pos += 3

			continue
		}

		pos++
	}

	flush(len(stream))

	return nalus
}

// Format identifies how a blob of AVC data is laid out: an Annex B
// bytestream, length-prefixed sample data, or an avcC configuration record.
type Format int

const (
	FormatUnknown Format = iota
	FormatAnnexB
	FormatLengthPrefixed
	FormatAVCC
)

// AutoDetect inspects the leading bytes of data to guess its format:
// an avcC configuration record starts with configurationVersion==1 and
// is at least 7 bytes; an Annex B stream starts with a 3- or 4-byte start
// code; anything else is assumed to be length-prefixed sample data.
func AutoDetect(data []byte) Format {
	if len(data) >= 7 && data[0] == 1 {
		return FormatAVCC
	}

	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && (data[2] == 1 || (data[2] == 0 && data[3] == 1)) {
		return FormatAnnexB
	}

	return FormatLengthPrefixed
}

// Config is the parsed AVCDecoderConfigurationRecord (avcC box payload),
// carrying the SPS/PPS a decoder needs before it can decode any frame.
type Config struct {
	ConfigurationVersion uint8
	Profile              uint8
	Compatibility        uint8
	Level                uint8
	LengthSizeMinusOne   uint8
	SPS                  [][]byte
	PPS                  [][]byte
}

// ErrAVCCTooShort is returned when an avcC payload is too short to
// contain its fixed fields.
var ErrAVCCTooShort = errors.New("avc: avcC data too short")

// ErrAVCCTruncated is returned when an avcC payload's declared SPS/PPS
// count or length runs past the end of the buffer.
var ErrAVCCTruncated = errors.New("avc: avcC truncated")

// ParseAVCC decodes an AVCDecoderConfigurationRecord per ISO/IEC 14496-15.
func ParseAVCC(data []byte) (Config, error) {
	if len(data) < 7 {
		return Config{}, ErrAVCCTooShort
	}

	r := bitio.NewBitReader(data)

	cfg := Config{
		ConfigurationVersion: uint8(r.ReadBits(8)), //nolint:gosec // n<=8, fits uint8
		Profile:              uint8(r.ReadBits(8)), //nolint:gosec // same
		Compatibility:        uint8(r.ReadBits(8)), //nolint:gosec // same
		Level:                uint8(r.ReadBits(8)), //nolint:gosec // same
	}

	r.ReadBits(6) // reserved, all-ones
	cfg.LengthSizeMinusOne = uint8(r.ReadBits(2)) //nolint:gosec // n<=2, fits uint8

	r.ReadBits(3) // reserved, all-ones
	numSPS := int(r.ReadBits(5))

	// The len(data) < 7 guard above already covers the 48 bits read by this
	// point (6 bytes), so r is always byte-aligned here with room to spare;
	// no latched error or alignment check can fire.
	pos := int(r.BytesRead())

	var err error

	cfg.SPS, pos, err = readParameterSets(data, pos, numSPS)
	if err != nil {
		return Config{}, fmt.Errorf("%w: SPS: %v", ErrAVCCTruncated, err)
	}

	if pos >= len(data) {
		return Config{}, fmt.Errorf("%w: PPS count", ErrAVCCTruncated)
	}

	numPPS := int(data[pos])
	pos++

	cfg.PPS, _, err = readParameterSets(data, pos, numPPS)
	if err != nil {
		return Config{}, fmt.Errorf("%w: PPS: %v", ErrAVCCTruncated, err)
	}

	return cfg, nil
}

func readParameterSets(data []byte, pos, count int) ([][]byte, int, error) {
	sets := make([][]byte, 0, count)

	for range count {
		if pos+2 > len(data) {
			return nil, pos, fmt.Errorf("reading length: %w", ErrAVCCTruncated)
		}

		length := int(uint16(data[pos])<<8 | uint16(data[pos+1]))
		pos += 2

		if pos+length > len(data) {
			return nil, pos, fmt.Errorf("reading payload: %w", ErrAVCCTruncated)
		}

		sets = append(sets, append([]byte(nil), data[pos:pos+length]...))
		pos += length
	}

	return sets, pos, nil
}

// IsValid reports whether the configuration carries at least one SPS and
// one PPS, the minimum a decoder needs to start.
func (c Config) IsValid() bool { return len(c.SPS) > 0 && len(c.PPS) > 0 }

// FirstParameterSets extracts one SPS and one PPS from data, auto-detecting
// whether it is an avcC record, an Annex B stream, or length-prefixed
// sample data. It is the entry point the thumbnail pipeline uses to
// recover parameter sets from whichever source was available (§6).
func FirstParameterSets(data []byte) (sps, pps []byte, err error) {
	switch AutoDetect(data) {
	case FormatAVCC:
		cfg, err := ParseAVCC(data)
		if err != nil {
			return nil, nil, err
		}

		if !cfg.IsValid() {
			return nil, nil, fmt.Errorf("avc: avcC has no SPS/PPS")
		}

		return cfg.SPS[0], cfg.PPS[0], nil
	case FormatAnnexB:
		return firstParameterSets(ExtractAnnexB(data))
	default:
		nalus, err := ExtractLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}

		return firstParameterSets(nalus)
	}
}

func firstParameterSets(nalus []Nalu) (sps, pps []byte, err error) {
	for _, n := range nalus {
		switch n.Type {
		case NaluSPS:
			if sps == nil {
				sps = n.Data
			}
		case NaluPPS:
			if pps == nil {
				pps = n.Data
			}
		}
	}

	if sps == nil || pps == nil {
		return nil, nil, fmt.Errorf("avc: no SPS/PPS found")
	}

	return sps, pps, nil
}
