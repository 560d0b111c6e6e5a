package tests_test

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/containerd/nerdctl/mod/tigron/expect"
	"github.com/containerd/nerdctl/mod/tigron/test"
	"github.com/containerd/nerdctl/mod/tigron/tig"

	"github.com/mycophonic/isoprobe/box"
	"github.com/mycophonic/isoprobe/tests/testutils"
)

// TestMetadataCommand drives the built isoprobe binary's "metadata"
// subcommand against a synthesized minimal MP4 (ftyp + moov/mvhd, no
// traks) and checks the JSON it prints to stdout.
func TestMetadataCommand(t *testing.T) {
	t.Parallel()

	testCase := testutils.Setup()
	testCase.Description = "metadata command against a synthesized fixture"

	testCase.Command = func(data test.Data, helpers test.Helpers) test.TestableCommand {
		fixture := data.Temp().Path("fixture.mp4")

		if err := os.WriteFile(fixture, minimalMP4Fixture(), 0o600); err != nil {
			helpers.T().Fatalf("writing fixture: %v", err)
		}

		return helpers.Command("metadata", fixture)
	}

	testCase.Expected = func(_ test.Data, _ test.Helpers) *test.Expected {
		return &test.Expected{
			ExitCode: expect.ExitCodeSuccess,
			Output:   expectMetadataJSON,
		}
	}

	testCase.Run(t)
}

func expectMetadataJSON(stdout string, t tig.T) {
	t.Helper()

	var decoded struct {
		Size   int64 `json:"Size"`
		Format struct {
			Name  string `json:"Name"`
			Brand string `json:"Brand"`
		} `json:"Format"`
		Duration *float64 `json:"Duration"`
	}

	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Log("invalid JSON output: " + err.Error() + "\n" + stdout)
		t.Fail()

		return
	}

	if decoded.Format.Name != "MP4" {
		t.Log("unexpected format name: " + decoded.Format.Name)
		t.Fail()
	}

	if decoded.Duration == nil || *decoded.Duration != 5.0 {
		t.Log("unexpected duration in metadata output")
		t.Fail()
	}
}

// TestSubtitlesCommandNonMP4 drives the "subtitles" subcommand against a
// non-MP4-family input, expecting the empty-list (not error) behavior
// spec §6/§7 mandates for unsupported containers.
func TestSubtitlesCommandNonMP4(t *testing.T) {
	t.Parallel()

	testCase := testutils.Setup()
	testCase.Description = "subtitles command against a non-MP4 file"

	testCase.Command = func(data test.Data, helpers test.Helpers) test.TestableCommand {
		fixture := data.Temp().Path("fixture.bin")

		if err := os.WriteFile(fixture, []byte("not an mp4 at all"), 0o600); err != nil {
			helpers.T().Fatalf("writing fixture: %v", err)
		}

		return helpers.Command("subtitles", fixture)
	}

	testCase.Expected = func(_ test.Data, _ test.Helpers) *test.Expected {
		return &test.Expected{
			ExitCode: expect.ExitCodeSuccess,
			Output: func(stdout string, t tig.T) {
				t.Helper()

				if trimmed := strings.TrimSpace(stdout); trimmed != "null" && trimmed != "[]" {
					t.Log("expected an empty subtitle list, got: " + stdout)
					t.Fail()
				}
			},
		}
	}

	testCase.Run(t)
}

// minimalMP4Fixture builds the smallest input the metadata pipeline can
// fully resolve: an ftyp box declaring the "isom" major brand, followed
// by a moov box containing only mvhd (timescale 1000, duration 5000
// ticks => 5.0s). No trak children, so stream summaries are empty.
func minimalMP4Fixture() []byte {
	ftypPayload := []byte("isom")
	ftypPayload = append(ftypPayload, 0, 0, 0, 0) // minor_version
	ftypPayload = append(ftypPayload, []byte("isomiso2mp41")...)

	var buf []byte

	buf = box.WriteHeader(buf, "ftyp", len(ftypPayload))
	buf = append(buf, ftypPayload...)

	mvhdPayload := make([]byte, 20)
	putUint32BE(mvhdPayload, 12, 1000) // timescale
	putUint32BE(mvhdPayload, 16, 5000) // duration

	var moovPayload []byte

	moovPayload = box.WriteHeader(moovPayload, "mvhd", len(mvhdPayload))
	moovPayload = append(moovPayload, mvhdPayload...)

	buf = box.WriteHeader(buf, "moov", len(moovPayload))
	buf = append(buf, moovPayload...)

	return buf
}

func putUint32BE(buf []byte, offset int, v uint32) {
	buf[offset] = byte(v >> 24)
	buf[offset+1] = byte(v >> 16)
	buf[offset+2] = byte(v >> 8)
	buf[offset+3] = byte(v)
}
