// Package planner classifies a fetched artifact against the delivery-channel
// size ceilings and executes the resulting plan: send direct, compress once,
// or split once. Every encoder failure degrades to the next lower-effort
// terminal; nothing here retries the same class twice for one artifact.
package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/workspace"
)

// safetyFactor reserves bitrate headroom for audio, container overhead and
// encoder rate-control error when computing a compression target.
const safetyFactor = 0.92

var (
	// ErrNoChunks means splitting produced nothing to send; surfaced only
	// after both the stream-copy and byte-slice attempts are exhausted.
	ErrNoChunks = errors.New("planner: no chunks produced")
	// ErrZeroDuration marks a split input whose duration could not be
	// established for time-slicing.
	ErrZeroDuration = errors.New("planner: zero duration input")
)

type PlanKind int

const (
	Direct PlanKind = iota
	Compress
	Split
)

func (k PlanKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Compress:
		return "compress"
	case Split:
		return "split"
	default:
		return "unknown"
	}
}

// Plan is derived purely from the artifact size and the two fixed
// thresholds; it is never mutated afterwards.
type Plan struct {
	Kind            PlanKind
	TargetSizeBytes int64 // Compress only
	ChunkSizeBytes  int64 // Split only
}

// Route tells the front end which transport path an item takes.
type Route int

const (
	// RouteInline items fit under the playable-inline ceiling.
	RouteInline Route = iota
	// RouteTransfer items go through the generic large-object path.
	RouteTransfer
)

// Item is one deliverable artifact plus its transport route.
type Item struct {
	Artifact media.Artifact
	Route    Route
}

// Limits are the fixed delivery ceilings. Chunk must be strictly below
// Transfer.
type Limits struct {
	Inline   int64
	Transfer int64
	Chunk    int64
}

// Classify maps an artifact size to its delivery plan.
func Classify(sizeBytes int64, l Limits) Plan {
	switch {
	case sizeBytes < l.Inline:
		return Plan{Kind: Direct}
	case sizeBytes < l.Transfer:
		return Plan{Kind: Compress, TargetSizeBytes: l.Inline}
	default:
		return Plan{Kind: Split, ChunkSizeBytes: l.Chunk}
	}
}

type Planner struct {
	limits Limits
	tc     media.Toolchain
}

func New(limits Limits, tc media.Toolchain) *Planner {
	return &Planner{limits: limits, tc: tc}
}

// Execute runs the plan for art and returns the deliverable items. The
// original file is kept on disk exactly when it is part of the result;
// every intermediate of a failed path is deleted before returning.
// durationSeconds is the measured container duration (zero when unknown).
func (p *Planner) Execute(ctx context.Context, ws *workspace.Workspace, art media.Artifact, durationSeconds float64) ([]Item, error) {
	plan := Classify(art.SizeBytes, p.limits)
	log := logx.FromCtx(ctx)
	log.Info().Str("plan", plan.Kind.String()).Int64("size", art.SizeBytes).Msg("delivery plan")

	switch plan.Kind {
	case Direct:
		return []Item{{Artifact: art, Route: RouteInline}}, nil
	case Compress:
		return p.compress(ctx, ws, art, plan.TargetSizeBytes, durationSeconds), nil
	default:
		return p.split(ctx, ws, art, plan.ChunkSizeBytes, durationSeconds)
	}
}

// compress attempts exactly one re-encode toward target. Any failure, and an
// output that is still over the inline ceiling, degrade to generic transfer
// of the original; this path never recurses into a second attempt.
func (p *Planner) compress(ctx context.Context, ws *workspace.Workspace, art media.Artifact, target int64, duration float64) []Item {
	log := logx.FromCtx(ctx)
	degrade := func(reason string, err error) []Item {
		log.Warn().Err(err).Str("reason", reason).Msg("compression degraded to generic transfer")
		return []Item{{
			Artifact: media.Artifact{Path: art.Path, SizeBytes: art.SizeBytes, Kind: media.KindDocument},
			Route:    RouteTransfer,
		}}
	}

	if duration <= 0 {
		return degrade("zero duration", nil)
	}

	kbps := int(math.Floor(float64(target) * 8 * safetyFactor / duration / 1000))
	if kbps < 1 {
		return degrade("target bitrate below floor", nil)
	}

	out := ws.Path("compressed" + extOf(art.Path))
	if err := p.tc.EncodeBitrate(ctx, art.Path, out, kbps); err != nil {
		removeQuiet(ctx, out)
		return degrade("encoder failed", err)
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		removeQuiet(ctx, out)
		return degrade("output missing or empty", err)
	}
	if info.Size() >= p.limits.Inline {
		removeQuiet(ctx, out)
		return degrade(fmt.Sprintf("output still %d bytes", info.Size()), nil)
	}

	// Success: the original is discarded and never transmitted.
	removeQuiet(ctx, art.Path)
	return []Item{{
		Artifact: media.Artifact{Path: out, SizeBytes: info.Size(), Kind: media.KindVideo},
		Route:    RouteInline,
	}}
}

// split slices the artifact into ceil(size/chunkLimit) pieces, preferring a
// cheap stream-copy time-slice and falling back to raw byte slices. Each
// chunk is reclassified against the inline ceiling; chunks are never split
// again.
func (p *Planner) split(ctx context.Context, ws *workspace.Workspace, art media.Artifact, chunkLimit int64, duration float64) ([]Item, error) {
	numChunks := int((art.SizeBytes + chunkLimit - 1) / chunkLimit)

	paths := p.segmentCopy(ctx, ws, art, numChunks, duration)
	if len(paths) == 0 {
		var err error
		paths, err = byteSlice(ws, art, numChunks)
		if err != nil {
			removeAll(ctx, paths)
			return nil, ErrNoChunks
		}
	}

	items := make([]Item, 0, len(paths))
	for _, pth := range paths {
		info, err := os.Stat(pth)
		if err != nil || info.Size() == 0 {
			removeQuiet(ctx, pth)
			continue
		}
		route := RouteInline
		if info.Size() >= p.limits.Inline {
			route = RouteTransfer
		}
		items = append(items, Item{
			Artifact: media.Artifact{Path: pth, SizeBytes: info.Size(), Kind: media.KindChunk},
			Route:    route,
		})
	}
	if len(items) == 0 {
		return nil, ErrNoChunks
	}
	removeQuiet(ctx, art.Path)
	return items, nil
}

// segmentCopy tries the re-mux time-slice. It is only valid for a
// well-formed container with a known duration; anything else returns nil so
// the caller falls back to byte slicing.
func (p *Planner) segmentCopy(ctx context.Context, ws *workspace.Workspace, art media.Artifact, numChunks int, duration float64) []string {
	log := logx.FromCtx(ctx)
	if duration <= 0 {
		log.Warn().Err(ErrZeroDuration).Msg("time-slice split skipped")
		return nil
	}

	pattern := ws.Path("part-%03d" + extOf(art.Path))
	segSeconds := duration / float64(numChunks)
	if err := p.tc.SegmentCopy(ctx, art.Path, pattern, segSeconds); err != nil {
		log.Warn().Err(err).Msg("stream-copy split failed")
		removeAll(ctx, globSegments(ws, extOf(art.Path)))
		return nil
	}
	return globSegments(ws, extOf(art.Path))
}

func globSegments(ws *workspace.Workspace, ext string) []string {
	matches, _ := filepath.Glob(ws.Path("part-*" + ext))
	sort.Strings(matches)
	return matches
}

// byteSlice cuts the file into numChunks raw pieces. The pieces are not
// independently playable; the front end ships them as documents.
func byteSlice(ws *workspace.Workspace, art media.Artifact, numChunks int) ([]string, error) {
	src, err := os.Open(art.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	chunkBytes := (art.SizeBytes + int64(numChunks) - 1) / int64(numChunks)
	var paths []string
	for i := 0; ; i++ {
		out := ws.Path(fmt.Sprintf("slice-%03d%s.part", i, extOf(art.Path)))
		n, err := copyChunk(src, out, chunkBytes)
		if err != nil {
			return paths, err
		}
		if n == 0 {
			break
		}
		paths = append(paths, out)
	}
	return paths, nil
}

func copyChunk(src io.Reader, dest string, limit int64) (int64, error) {
	dst, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if n == 0 {
		_ = os.Remove(dest)
	}
	return n, err
}

func extOf(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".mp4"
}

func removeQuiet(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(err).Str("path", path).Msg("intermediate not removed")
	}
}

func removeAll(ctx context.Context, paths []string) {
	for _, p := range paths {
		removeQuiet(ctx, p)
	}
}
