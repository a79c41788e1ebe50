package media

import "context"

// Toolchain is the opaque external compute capability (prober + encoder).
// The pipeline depends only on this contract; tests inject fakes so the
// planner and sampler state machines run without a real media toolchain.
type Toolchain interface {
	// ProbeDuration returns the container duration in seconds. A zero
	// duration with nil error means "unknown/empty", which callers treat
	// as a normal non-fatal outcome.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// EncodeBitrate re-encodes in to out at the given video bitrate.
	EncodeBitrate(ctx context.Context, in, out string, videoKbps int) error

	// Trim extracts [start, start+dur) seconds of in into out using a fast
	// preset with bounded resolution.
	Trim(ctx context.Context, in, out string, start, dur float64) error

	// SegmentCopy re-muxes in into fixed-duration segments without
	// re-encoding. outPattern must contain a %03d placeholder.
	SegmentCopy(ctx context.Context, in, outPattern string, segSeconds float64) error

	// Readable runs a lightweight stream-readability check.
	Readable(ctx context.Context, path string) error
}
