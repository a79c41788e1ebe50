package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const killGrace = 5 * time.Second

// FFmpeg invokes ffmpeg/ffprobe as subprocesses with a per-call timeout and
// graceful termination (SIGTERM, forced kill after a grace period).
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

func NewFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, timeout: timeout}
}

var _ Toolchain = (*FFmpeg)(nil)

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, "probe", f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(out))
	sec, perr := strconv.ParseFloat(s, 64)
	if perr != nil || sec < 0 {
		// "N/A" or empty output; callers treat zero as unknown.
		return 0, nil
	}
	return sec, nil
}

func (f *FFmpeg) EncodeBitrate(ctx context.Context, in, out string, videoKbps int) error {
	kbps := strconv.Itoa(videoKbps)
	_, err := f.run(ctx, "encode", f.ffmpeg,
		"-y",
		"-i", in,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", kbps+"k",
		"-maxrate", kbps+"k",
		"-bufsize", strconv.Itoa(videoKbps*2)+"k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	)
	return err
}

func (f *FFmpeg) Trim(ctx context.Context, in, out string, start, dur float64) error {
	_, err := f.run(ctx, "trim", f.ffmpeg,
		"-y",
		"-ss", fmtSeconds(start),
		"-t", fmtSeconds(dur),
		"-i", in,
		"-vf", "scale=-2:'min(720,ih)'",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
		out,
	)
	return err
}

func (f *FFmpeg) SegmentCopy(ctx context.Context, in, outPattern string, segSeconds float64) error {
	_, err := f.run(ctx, "segment", f.ffmpeg,
		"-y",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", fmtSeconds(segSeconds),
		"-reset_timestamps", "1",
		outPattern,
	)
	return err
}

func (f *FFmpeg) Readable(ctx context.Context, path string) error {
	_, err := f.run(ctx, "probe", f.ffprobe, "-v", "error", path)
	return err
}

// run executes one subprocess under the configured timeout. Stderr is
// captured; its tail is attached to the returned error for diagnostics.
func (f *FFmpeg) run(ctx context.Context, op, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	kind := SubprocessFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = EncodeTimeout
	}
	return nil, &EncodeError{
		Kind:   kind,
		Op:     op,
		Detail: stderrTail(stderr.String(), 5),
		Err:    fmt.Errorf("%s %s: %w", bin, args[len(args)-1], err),
	}
}

func fmtSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func stderrTail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
