// Package resolver turns an arbitrary source URL into a fetchable stream
// description by trying an ordered list of yt-dlp format strategies. The
// first strategy that yields a usable stream URL and title wins; all other
// failures are soft and fall through to the next strategy.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
)

// ErrAllStrategiesFailed is returned when no strategy produced a usable
// stream. It is always recoverable by the caller.
var ErrAllStrategiesFailed = errors.New("resolver: all strategies failed")

// Strategy is one named format-preference policy.
type Strategy struct {
	Name   string
	Format string // yt-dlp -f expression
}

// DefaultStrategies collapses the historical near-identical extraction
// variants into one parameterized list, tried strictly in order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "progressive-mp4", Format: "best[ext=mp4][vcodec!=none][acodec!=none]"},
		{Name: "best-any", Format: "best"},
		{Name: "worst", Format: "worst"},
	}
}

// runFunc executes the extractor binary and returns its stdout. Injected in
// tests so strategies run without yt-dlp installed.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, error)

type Resolver struct {
	bin        string
	timeout    time.Duration
	strategies []Strategy
	run        runFunc
}

func New(bin string, timeout time.Duration) *Resolver {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Resolver{
		bin:        bin,
		timeout:    timeout,
		strategies: DefaultStrategies(),
		run:        runCommand,
	}
}

// ytdlp -J wire format, reduced to the fields we consume.
type ytdlpInfo struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Ext            string  `json:"ext"`
	Duration       float64 `json:"duration"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Thumbnail      string  `json:"thumbnail"`
}

// Resolve probes url with each strategy in order and returns the first
// usable descriptor. No artifact is written; the only side effect is
// outbound network probing by the extractor.
func (r *Resolver) Resolve(ctx context.Context, url string) (*media.SourceDescriptor, error) {
	log := logx.FromCtx(ctx)
	for _, st := range r.strategies {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		out, err := r.run(sctx, r.bin, "-J", "--no-playlist", "--no-warnings", "-f", st.Format, url)
		cancel()
		if err != nil {
			log.Debug().Str("strategy", st.Name).Err(err).Msg("strategy failed")
			continue
		}

		var info ytdlpInfo
		if err := json.Unmarshal(bytes.TrimSpace(out), &info); err != nil {
			log.Debug().Str("strategy", st.Name).Err(err).Msg("strategy output unparsable")
			continue
		}
		if info.URL == "" || info.Title == "" {
			log.Debug().Str("strategy", st.Name).Msg("strategy returned no usable stream")
			continue
		}

		size := info.Filesize
		if size == 0 {
			size = info.FilesizeApprox
		}
		ext := info.Ext
		if ext == "" {
			ext = "mp4"
		}
		log.Info().Str("strategy", st.Name).Str("title", info.Title).Msg("resolved")
		return &media.SourceDescriptor{
			SourceURL:         url,
			ResolvedStreamURL: info.URL,
			Title:             info.Title,
			ContainerExt:      strings.ToLower(ext),
			NominalSizeBytes:  size,
			DurationSeconds:   info.Duration,
			Width:             info.Width,
			Height:            info.Height,
			ThumbnailURL:      info.Thumbnail,
			Strategy:          st.Name,
		}, nil
	}
	return nil, ErrAllStrategiesFailed
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		lw := logx.NewLineWriter(map[string]string{"bin": bin}, zerolog.DebugLevel)
		lw.Pipe(&stderr)
		return nil, err
	}
	return stdout.Bytes(), nil
}
