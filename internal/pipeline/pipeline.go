// Package pipeline wires resolution, bounded fetching, delivery planning and
// clip sampling into the two operations the front end calls. Each request
// owns one workspace; deliverable files are renamed into a handoff directory
// before the workspace is torn down, and the front end discards them after
// transmission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/you/tg-grabber/internal/config"
	"github.com/you/tg-grabber/internal/guard"
	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/planner"
	"github.com/you/tg-grabber/internal/workspace"
)

// ErrBusy signals that a heavy operation is already in flight for the
// requester. It is a normal condition, not a failure.
var ErrBusy = errors.New("pipeline: requester busy")

type Resolver interface {
	Resolve(ctx context.Context, url string) (*media.SourceDescriptor, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, streamURL, destPath string, maxBytes int64) (media.Artifact, error)
}

type Planner interface {
	Execute(ctx context.Context, ws *workspace.Workspace, art media.Artifact, durationSeconds float64) ([]planner.Item, error)
}

type Sampler interface {
	Sample(ctx context.Context, ws *workspace.Workspace, art media.Artifact, n int, clipDur float64) ([]media.Artifact, error)
}

type Quota interface {
	Charge(ctx context.Context, user int64, n int) error
	CountDownload(ctx context.Context, user int64) error
}

// NotifyFunc receives advisory progress stages ("extracting", "downloading",
// "processing"). Implementations must not block.
type NotifyFunc func(stage string)

type Deps struct {
	Resolver  Resolver
	Fetcher   Fetcher
	Toolchain media.Toolchain
	Planner   Planner
	Sampler   Sampler
	Guard     *guard.Guard
	Quota     Quota
	Cfg       config.Config
}

type Pipeline struct{ d Deps }

func New(d Deps) *Pipeline { return &Pipeline{d: d} }

// Delivery is the terminal result of ResolveAndDeliver. Items live in
// HandoffDir and stay there until Discard.
type Delivery struct {
	Title         string
	SuggestedName string
	Items         []planner.Item
	HandoffDir    string
}

// Discard removes the handoff directory once every item has been sent.
func (d *Delivery) Discard(ctx context.Context) {
	if d.HandoffDir == "" {
		return
	}
	if err := os.RemoveAll(d.HandoffDir); err != nil {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(err).Str("dir", d.HandoffDir).Msg("handoff cleanup failed")
	}
}

// ResolveAndDeliver resolves url, fetches it under the source byte budget,
// and executes the delivery plan. All heavy steps run strictly in sequence;
// the per-requester guard rejects a second concurrent call with ErrBusy.
func (p *Pipeline) ResolveAndDeliver(ctx context.Context, url string, requesterID int64, notify NotifyFunc) (*Delivery, error) {
	if !p.d.Guard.TryAcquire(requesterID) {
		return nil, ErrBusy
	}
	defer p.d.Guard.Release(requesterID)
	ctx = logx.WithUserID(ctx, requesterID)
	if notify == nil {
		notify = func(string) {}
	}

	ws, err := workspace.New(p.d.Cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup(ctx)
	ctx = logx.WithRequestID(ctx, ws.ID)

	notify("extracting")
	desc, err := p.d.Resolver.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}

	notify("downloading")
	fctx, cancel := context.WithTimeout(ctx, p.d.Cfg.FetchTimeout)
	art, err := p.d.Fetcher.Fetch(fctx, desc.ResolvedStreamURL, ws.Path("source."+desc.ContainerExt), p.d.Cfg.MaxSourceBytes)
	cancel()
	if err != nil {
		return nil, err
	}
	if qerr := p.d.Quota.CountDownload(ctx, requesterID); qerr != nil {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(qerr).Msg("download counter not updated")
	}

	// Measured duration beats the upstream-reported one; fall back to the
	// advisory value when the probe comes up empty.
	duration, perr := p.d.Toolchain.ProbeDuration(ctx, art.Path)
	if perr != nil || duration == 0 {
		duration = desc.DurationSeconds
	}

	notify("processing")
	items, err := p.d.Planner.Execute(ctx, ws, art, duration)
	if err != nil {
		return nil, err
	}

	handoff, items, err := p.handoff(ws, items)
	if err != nil {
		return nil, err
	}
	if qerr := p.d.Quota.Charge(ctx, requesterID, len(items)); qerr != nil {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(qerr).Msg("quota charge failed")
	}

	return &Delivery{
		Title:         desc.Title,
		SuggestedName: suggestName(desc.Title, desc.ContainerExt),
		Items:         items,
		HandoffDir:    handoff,
	}, nil
}

// SampleClips fetches an uploaded artifact by its direct URL and derives the
// preview clips. An empty item list is a normal outcome for short sources.
func (p *Pipeline) SampleClips(ctx context.Context, streamURL string, requesterID int64, notify NotifyFunc) (*Delivery, error) {
	if !p.d.Guard.TryAcquire(requesterID) {
		return nil, ErrBusy
	}
	defer p.d.Guard.Release(requesterID)
	ctx = logx.WithUserID(ctx, requesterID)
	if notify == nil {
		notify = func(string) {}
	}

	ws, err := workspace.New(p.d.Cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup(ctx)
	ctx = logx.WithRequestID(ctx, ws.ID)

	notify("downloading")
	fctx, cancel := context.WithTimeout(ctx, p.d.Cfg.FetchTimeout)
	art, err := p.d.Fetcher.Fetch(fctx, streamURL, ws.Path("source.mp4"), p.d.Cfg.MaxSourceBytes)
	cancel()
	if err != nil {
		return nil, err
	}

	notify("sampling")
	clipArts, err := p.d.Sampler.Sample(ctx, ws, art, p.d.Cfg.ClipCount, p.d.Cfg.ClipSeconds)
	if err != nil {
		return nil, err
	}

	items := make([]planner.Item, 0, len(clipArts))
	for _, c := range clipArts {
		items = append(items, planner.Item{Artifact: c, Route: planner.RouteInline})
	}
	handoff, items, err := p.handoff(ws, items)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if qerr := p.d.Quota.Charge(ctx, requesterID, len(items)); qerr != nil {
			logger := logx.FromCtx(ctx)
			logger.Warn().Err(qerr).Msg("quota charge failed")
		}
	}

	return &Delivery{Items: items, HandoffDir: handoff}, nil
}

// handoff renames deliverables out of the workspace so the deferred cleanup
// cannot take them down before the front end transmits them.
func (p *Pipeline) handoff(ws *workspace.Workspace, items []planner.Item) (string, []planner.Item, error) {
	if len(items) == 0 {
		return "", items, nil
	}
	dir := filepath.Join(p.d.Cfg.DataDir, "handoff", ws.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	for i := range items {
		dst := filepath.Join(dir, filepath.Base(items[i].Artifact.Path))
		if err := os.Rename(items[i].Artifact.Path, dst); err != nil {
			_ = os.RemoveAll(dir)
			return "", nil, err
		}
		items[i].Artifact.Path = dst
	}
	return dir, items, nil
}

// suggestName turns a source title into a safe filename.
func suggestName(title, ext string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "video"
	}
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s.%s", name, ext)
}
