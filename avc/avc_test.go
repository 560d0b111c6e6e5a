package avc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mycophonic/isoprobe/avc"
)

func annexBFrame(nalus ...[]byte) []byte {
	var buf bytes.Buffer

	for _, n := range nalus {
		buf.Write([]byte{0, 0, 0, 1})
		buf.Write(n)
	}

	return buf.Bytes()
}

func lengthPrefixedFrame(nalus ...[]byte) []byte {
	var buf bytes.Buffer

	for _, n := range nalus {
		length := len(n)
		buf.Write([]byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)})
		buf.Write(n)
	}

	return buf.Bytes()
}

func TestExtractAnnexB(t *testing.T) {
	t.Parallel()

	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	slice := []byte{0x65, 0xAA, 0xBB}

	frame := annexBFrame(sps, pps, slice)

	nalus := avc.ExtractAnnexB(frame)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NALUs, got %d", len(nalus))
	}

	if nalus[0].Type != avc.NaluSPS || nalus[1].Type != avc.NaluPPS || nalus[2].Type != avc.NaluIDR {
		t.Fatalf("unexpected classification: %+v", nalus)
	}

	if !bytes.Equal(nalus[0].Data, sps) || !bytes.Equal(nalus[1].Data, pps) || !bytes.Equal(nalus[2].Data, slice) {
		t.Fatalf("payload mismatch after extraction")
	}
}

func TestExtractAnnexBThreeByteStartCode(t *testing.T) {
	t.Parallel()

	data := []byte{0, 0, 1, 0x67, 0x01, 0, 0, 1, 0x68, 0x02}

	nalus := avc.ExtractAnnexB(data)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NALUs, got %d", len(nalus))
	}
}

func TestExtractLengthPrefixedRoundTrip(t *testing.T) {
	t.Parallel()

	sps := []byte{0x67, 0xAA}
	pps := []byte{0x68, 0xBB, 0xCC}

	sample := lengthPrefixedFrame(sps, pps)

	nalus, err := avc.ExtractLengthPrefixed(sample)
	if err != nil {
		t.Fatalf("ExtractLengthPrefixed: %v", err)
	}

	if len(nalus) != 2 || !bytes.Equal(nalus[0].Data, sps) || !bytes.Equal(nalus[1].Data, pps) {
		t.Fatalf("unexpected result: %+v", nalus)
	}
}

func TestExtractLengthPrefixedMalformed(t *testing.T) {
	t.Parallel()

	// Declares a length far larger than the remaining buffer.
	sample := []byte{0, 0, 0, 100, 0x67}

	if _, err := avc.ExtractLengthPrefixed(sample); !errors.Is(err, avc.ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
}

func TestAutoDetect(t *testing.T) {
	t.Parallel()

	avcc := []byte{1, 0x64, 0x00, 0x1f, 0xff, 0xe1, 0x00}
	if got := avc.AutoDetect(avcc); got != avc.FormatAVCC {
		t.Fatalf("expected FormatAVCC, got %v", got)
	}

	annexB4 := []byte{0, 0, 0, 1, 0x67}
	if got := avc.AutoDetect(annexB4); got != avc.FormatAnnexB {
		t.Fatalf("expected FormatAnnexB (4-byte start code), got %v", got)
	}

	annexB3 := []byte{0, 0, 1, 0x67}
	if got := avc.AutoDetect(annexB3); got != avc.FormatAnnexB {
		t.Fatalf("expected FormatAnnexB (3-byte start code), got %v", got)
	}

	lengthPrefixed := []byte{0, 0, 0, 5, 0x67, 0, 0, 0, 0}
	if got := avc.AutoDetect(lengthPrefixed); got != avc.FormatLengthPrefixed {
		t.Fatalf("expected FormatLengthPrefixed, got %v", got)
	}
}

func buildAVCC(sps, pps [][]byte) []byte {
	data := []byte{1, 0x64, 0x00, 0x1f, 0xff}
	data = append(data, byte(0xE0|len(sps)))

	for _, s := range sps {
		data = append(data, byte(len(s)>>8), byte(len(s)))
		data = append(data, s...)
	}

	data = append(data, byte(len(pps)))

	for _, p := range pps {
		data = append(data, byte(len(p)>>8), byte(len(p)))
		data = append(data, p...)
	}

	return data
}

func TestParseAVCCRoundTrip(t *testing.T) {
	t.Parallel()

	sps := [][]byte{{0x67, 0x64, 0x00, 0x1f}}
	pps := [][]byte{{0x68, 0xEB}}

	raw := buildAVCC(sps, pps)

	cfg, err := avc.ParseAVCC(raw)
	if err != nil {
		t.Fatalf("ParseAVCC: %v", err)
	}

	if len(cfg.SPS) != 1 || !bytes.Equal(cfg.SPS[0], sps[0]) {
		t.Fatalf("SPS mismatch: %+v", cfg.SPS)
	}

	if len(cfg.PPS) != 1 || !bytes.Equal(cfg.PPS[0], pps[0]) {
		t.Fatalf("PPS mismatch: %+v", cfg.PPS)
	}

	if !cfg.IsValid() {
		t.Fatalf("expected config to be valid")
	}

	// Re-serialize using the same layout and reparse; structure must match.
	reserialized := buildAVCC(cfg.SPS, cfg.PPS)

	cfg2, err := avc.ParseAVCC(reserialized)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if !bytes.Equal(cfg2.SPS[0], cfg.SPS[0]) || !bytes.Equal(cfg2.PPS[0], cfg.PPS[0]) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestParseAVCCTruncated(t *testing.T) {
	t.Parallel()

	if _, err := avc.ParseAVCC([]byte{1, 2, 3}); !errors.Is(err, avc.ErrAVCCTooShort) {
		t.Fatalf("expected ErrAVCCTooShort, got %v", err)
	}

	truncated := []byte{1, 0x64, 0, 0x1f, 0xff, 0xE1, 0x00, 0x10} // declares 16-byte SPS but has none
	if _, err := avc.ParseAVCC(truncated); !errors.Is(err, avc.ErrAVCCTruncated) {
		t.Fatalf("expected ErrAVCCTruncated, got %v", err)
	}
}

func TestFirstParameterSets(t *testing.T) {
	t.Parallel()

	sps := []byte{0x67, 1, 2}
	pps := []byte{0x68, 3}

	avcc := buildAVCC([][]byte{sps}, [][]byte{pps})

	gotSPS, gotPPS, err := avc.FirstParameterSets(avcc)
	if err != nil {
		t.Fatalf("FirstParameterSets(avcC): %v", err)
	}

	if !bytes.Equal(gotSPS, sps) || !bytes.Equal(gotPPS, pps) {
		t.Fatalf("avcC parameter sets mismatch")
	}

	frame := annexBFrame(sps, pps, []byte{0x65, 9, 9})

	gotSPS, gotPPS, err = avc.FirstParameterSets(frame)
	if err != nil {
		t.Fatalf("FirstParameterSets(annexB): %v", err)
	}

	if !bytes.Equal(gotSPS, sps) || !bytes.Equal(gotPPS, pps) {
		t.Fatalf("annex B parameter sets mismatch")
	}
}
