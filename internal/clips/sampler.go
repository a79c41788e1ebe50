// Package clips derives short preview excerpts from fixed temporal positions
// of a source video. A short or unreadable source yields no clips; that is a
// normal outcome, never an error.
package clips

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/workspace"
)

// minClipBytes rules out empty or near-empty encoder outputs.
const minClipBytes = 1024

type Label string

const (
	Beginning Label = "beginning"
	Middle    Label = "middle"
	End       Label = "end"
)

// Spec is one planned excerpt. Specs whose window would run past the end of
// the source are dropped, never clamped.
type Spec struct {
	StartOffsetSeconds float64
	DurationSeconds    float64
	Label              Label
}

// ComputeSpecs derives up to three non-overlapping excerpt windows from
// duration-relative positions. The guard band keeps windows away from the
// true start and end of the source.
func ComputeSpecs(duration float64, n int, clipDur, guardBand float64) []Spec {
	if duration <= 0 || n <= 0 || clipDur <= 0 {
		return nil
	}
	if duration < clipDur*float64(n)+guardBand {
		return nil
	}

	endOffset := duration - clipDur - guardBand
	if 0.90*duration < endOffset {
		endOffset = 0.90 * duration
	}
	if endOffset < 0 {
		endOffset = 0
	}

	candidates := []Spec{
		{StartOffsetSeconds: 0.05 * duration, DurationSeconds: clipDur, Label: Beginning},
		{StartOffsetSeconds: 0.45 * duration, DurationSeconds: clipDur, Label: Middle},
		{StartOffsetSeconds: endOffset, DurationSeconds: clipDur, Label: End},
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	specs := make([]Spec, 0, n)
	prevEnd := 0.0
	for _, s := range candidates[:n] {
		if s.StartOffsetSeconds+s.DurationSeconds > duration {
			continue
		}
		// Keep windows non-overlapping and in ascending offset order.
		if s.StartOffsetSeconds < prevEnd {
			continue
		}
		prevEnd = s.StartOffsetSeconds + s.DurationSeconds
		specs = append(specs, s)
	}
	return specs
}

type Sampler struct {
	tc          media.Toolchain
	clipTimeout time.Duration
	guardBand   float64
}

func New(tc media.Toolchain, clipTimeout time.Duration, guardBandSeconds float64) *Sampler {
	return &Sampler{tc: tc, clipTimeout: clipTimeout, guardBand: guardBandSeconds}
}

// Sample derives up to n clips of clipDur seconds from art. Individual clip
// failures (encoder error, timeout, invalid output) skip that clip only; the
// result keeps offset order and may hold fewer than n clips, or none.
func (s *Sampler) Sample(ctx context.Context, ws *workspace.Workspace, art media.Artifact, n int, clipDur float64) ([]media.Artifact, error) {
	log := logx.FromCtx(ctx)

	duration, err := s.tc.ProbeDuration(ctx, art.Path)
	if err != nil {
		log.Warn().Err(err).Msg("duration probe failed; no clips")
		return nil, nil
	}
	if duration == 0 {
		return nil, nil
	}

	specs := ComputeSpecs(duration, n, clipDur, s.guardBand)
	if len(specs) == 0 {
		log.Info().Float64("duration", duration).Msg("source too short for previews")
		return nil, nil
	}

	var out []media.Artifact
	for i, spec := range specs {
		path := ws.Path(fmt.Sprintf("clip-%d-%s.mp4", i, spec.Label))

		cctx, cancel := context.WithTimeout(ctx, s.clipTimeout)
		err := s.tc.Trim(cctx, art.Path, path, spec.StartOffsetSeconds, spec.DurationSeconds)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("label", string(spec.Label)).Msg("clip trim failed; skipped")
			removeQuiet(ctx, path)
			continue
		}

		if !s.valid(ctx, path) {
			log.Warn().Str("label", string(spec.Label)).Msg("clip failed validation; skipped")
			removeQuiet(ctx, path)
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, media.Artifact{Path: path, SizeBytes: info.Size(), Kind: media.KindClip})
	}
	return out, nil
}

// valid checks that the encoder actually produced a usable file: present,
// above the byte floor, and stream-readable.
func (s *Sampler) valid(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < minClipBytes {
		return false
	}
	return s.tc.Readable(ctx, path) == nil
}

func removeQuiet(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(err).Str("path", path).Msg("clip not removed")
	}
}
