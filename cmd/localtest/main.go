package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/you/tg-grabber/internal/clips"
	"github.com/you/tg-grabber/internal/config"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/planner"
	"github.com/you/tg-grabber/internal/workspace"
)

// Exercises the planner and the sampler against a local file without
// Telegram or Redis.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/localtest <input.mp4>")
		return
	}
	_ = godotenv.Load()
	c := config.Load()
	c.DataDir = "."
	in := os.Args[1]

	ctx := context.Background()
	tc := media.NewFFmpeg(c.FfmpegBin, c.FfprobeBin, c.SubprocTimeout)

	info, err := os.Stat(in)
	if err != nil {
		panic(err)
	}
	dur, err := tc.ProbeDuration(ctx, in)
	if err != nil {
		panic(err)
	}
	fmt.Printf("size=%d duration=%.1fs plan=%s\n", info.Size(), dur,
		planner.Classify(info.Size(), planner.Limits{
			Inline:   c.InlineLimitBytes,
			Transfer: c.TransferLimitBytes,
			Chunk:    c.ChunkLimitBytes,
		}).Kind)

	// Not cleaned up so the outputs can be inspected.
	ws, err := workspace.New(c.DataDir)
	if err != nil {
		panic(err)
	}

	art := media.Artifact{Path: in, SizeBytes: info.Size(), Kind: media.KindVideo}
	sampler := clips.New(tc, c.ClipTimeout, c.GuardBandSeconds)
	out, err := sampler.Sample(ctx, ws, art, c.ClipCount, c.ClipSeconds)
	if err != nil {
		panic(err)
	}
	for _, a := range out {
		fmt.Println("clip:", a.Path, a.SizeBytes, "bytes")
	}
	if len(out) == 0 {
		fmt.Println("no previews (source too short or unreadable)")
	} else {
		fmt.Println("outputs in", ws.Dir)
	}
}
