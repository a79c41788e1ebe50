package media

// ArtifactKind tells the front end how an artifact should be presented.
type ArtifactKind int

const (
	KindVideo ArtifactKind = iota
	KindDocument
	KindClip
	KindChunk
)

func (k ArtifactKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindClip:
		return "clip"
	case KindChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Artifact is a file produced during processing of one request. It is owned
// by the workspace that created it and is unlinked when that workspace is
// torn down, unless it has been handed off for transmission first.
type Artifact struct {
	Path      string
	SizeBytes int64
	Kind      ArtifactKind
}

// SourceDescriptor is the resolver's immutable description of a fetchable
// stream. NominalSizeBytes and DurationSeconds are upstream-reported and
// advisory only; the fetcher measures the real size.
type SourceDescriptor struct {
	SourceURL         string
	ResolvedStreamURL string
	Title             string
	ContainerExt      string
	NominalSizeBytes  int64
	DurationSeconds   float64
	Width             int
	Height            int
	ThumbnailURL      string
	Strategy          string // name of the winning resolution strategy
}
