package isoprobe

// ContainerFormat identifies the recognized family of an ISO-BMFF (or
// adjacent) container, derived from the ftyp major_brand or magic bytes.
type ContainerFormat struct {
	Name  string // "MP4", "M4V", "3GP", "3G2", "MOV", "MP3", or "Unknown"
	Brand string // raw four-character major_brand (kept for Unknown brands too), empty for MP3 or input without ftyp
}

// IsMP4Family reports whether f belongs to the ISO-BMFF box-tree family that
// the box navigator and sample-table model can parse.
func (f ContainerFormat) IsMP4Family() bool {
	switch f.Name {
	case "MP4", "M4V", "3GP", "3G2", "MOV":
		return true
	default:
		return false
	}
}

// StreamKind classifies a track's media handler.
type StreamKind int

// Recognized track kinds.
const (
	StreamUnknown StreamKind = iota
	StreamVideo
	StreamAudio
	StreamSubtitle
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// StreamInfo summarizes one track of a container.
type StreamInfo struct {
	Index     int
	Kind      StreamKind
	Codec     string
	Width     *uint32
	Height    *uint32
	Channels  *uint16
	FrameRate *float64 // always nil: stsd carries no frame-rate field in practice.
	Language  *string  // ISO 639-2/T, e.g. "eng"
}

// Metadata is the result of the metadata pipeline.
type Metadata struct {
	Title     *string
	Artist    *string
	Album     *string
	Copyright *string
	Duration  *float64 // seconds
	Size      int64
	Format    ContainerFormat
	Streams   []StreamInfo
}

// SubtitleEntry is one decoded timed-text cue.
type SubtitleEntry struct {
	Start string // "HH:MM:SS,mmm"
	End   string // "HH:MM:SS,mmm"
	Text  string
}

// ThumbnailData is one rendered thumbnail.
type ThumbnailData struct {
	Base64    string // "data:image/jpeg;base64,..."
	Timestamp float64
	Width     int
	Height    int
}
