package media

import "fmt"

// EncodeErrorKind classifies encoder/prober subprocess failures.
type EncodeErrorKind int

const (
	SubprocessFailed EncodeErrorKind = iota
	EncodeTimeout
	OutputMissing
)

func (k EncodeErrorKind) String() string {
	switch k {
	case SubprocessFailed:
		return "subprocess failed"
	case EncodeTimeout:
		return "timeout"
	case OutputMissing:
		return "output missing or empty"
	default:
		return "unknown"
	}
}

// EncodeError is never surfaced raw to the requester; the planner and the
// sampler consume it and fall through to a lower-effort path.
type EncodeError struct {
	Kind   EncodeErrorKind
	Op     string // "encode", "trim", "segment", "probe"
	Detail string // trailing stderr lines, if any
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %v\n%s", e.Op, e.Kind, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
