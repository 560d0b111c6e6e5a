package isoprobe

import (
	"context"
	"fmt"

	"github.com/mycophonic/isoprobe/stream"
)

// ftypBrands maps a recognized ftyp major_brand (always 4 bytes, padded
// with spaces where the wire format is shorter) to a human-readable
// container name, per the major-brand table.
var ftypBrands = map[string]string{
	"isom": "MP4", "mp41": "MP4", "mp42": "MP4",
	"iso2": "MP4", "iso4": "MP4", "iso5": "MP4", "iso6": "MP4",
	"M4V ": "M4V", "M4VH": "M4V", "M4VP": "M4V",
	"3gp4": "3GP", "3gp5": "3GP", "3gp6": "3GP", "3gp7": "3GP",
	"3ge6": "3GP", "3ge7": "3GP", "3gg6": "3GP",
	"3g2a": "3G2", "3g2b": "3G2", "3g2c": "3G2",
	"qt  ": "MOV",
}

// detectFormat reads the file's leading bytes and classifies it: an MP3
// frame (ID3v2 tag or an MPEG frame sync), or an ISO-BMFF family member
// identified by ftyp's major_brand. An unrecognized ftyp brand is
// reported as an Unknown format carrying that brand string.
func detectFormat(ctx context.Context, src stream.Source) (ContainerFormat, error) {
	head := make([]byte, 12)

	n, err := readHead(src, head)
	if err != nil {
		return ContainerFormat{}, fmt.Errorf("isoprobe: reading format header: %w", err)
	}

	head = head[:n]

	if isMP3(head) {
		return ContainerFormat{Name: "MP3"}, nil
	}

	if len(head) < 8 || string(head[4:8]) != "ftyp" {
		return ContainerFormat{Name: "Unknown"}, nil
	}

	if len(head) < 12 {
		return ContainerFormat{Name: "Unknown"}, nil
	}

	brand := string(head[8:12])
	if name, ok := ftypBrands[brand]; ok {
		return ContainerFormat{Name: name, Brand: brand}, nil
	}

	return ContainerFormat{Name: "Unknown", Brand: brand}, nil
}

func readHead(src stream.Source, buf []byte) (int, error) {
	if _, err := src.Seek(0, stream.SeekStart); err != nil {
		return 0, err
	}

	total := 0
	for total < len(buf) {
		n, err := src.Read(buf[total:])
		total += n

		if n == 0 || err != nil {
			break
		}
	}

	if _, err := src.Seek(0, stream.SeekStart); err != nil {
		return total, err
	}

	return total, nil
}

func isMP3(head []byte) bool {
	if len(head) >= 3 && head[0] == 'I' && head[1] == 'D' && head[2] == '3' {
		return true
	}

	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}
