package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-grabber/internal/clips"
	"github.com/you/tg-grabber/internal/config"
	"github.com/you/tg-grabber/internal/fetch"
	"github.com/you/tg-grabber/internal/guard"
	"github.com/you/tg-grabber/internal/jobs"
	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/pipeline"
	"github.com/you/tg-grabber/internal/planner"
	"github.com/you/tg-grabber/internal/quota"
	"github.com/you/tg-grabber/internal/resolver"
)

type worker struct {
	cfg config.Config
	bot *tgbotapi.BotAPI
	p   *pipeline.Pipeline
}

func main() {
	_ = godotenv.Load()
	c := config.Load()

	logx.Setup(logx.FromEnv("worker"))
	log.Info().Msg("worker starting")

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN required")
	}
	if err := os.MkdirAll(filepath.Join(c.DataDir, "work"), 0o755); err != nil {
		log.Fatal().Err(err).Msg("data dir not writable")
	}

	bot, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	tc := media.NewFFmpeg(c.FfmpegBin, c.FfprobeBin, c.SubprocTimeout)

	p := pipeline.New(pipeline.Deps{
		Resolver:  resolver.New(c.YtdlpBin, c.SubprocTimeout),
		Fetcher:   fetch.New(http.DefaultClient),
		Toolchain: tc,
		Planner: planner.New(planner.Limits{
			Inline:   c.InlineLimitBytes,
			Transfer: c.TransferLimitBytes,
			Chunk:    c.ChunkLimitBytes,
		}, tc),
		Sampler: clips.New(tc, c.ClipTimeout, c.GuardBandSeconds),
		Guard:   guard.New(),
		Quota:   quota.New(rdb, c.DailyMax),
		Cfg:     c,
	})

	w := &worker{cfg: c, bot: bot, p: p}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: c.RedisAddr}, asynq.Config{
		Concurrency: c.Concurrency,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskDeliverURL, w.handleDeliverURL)
	mux.HandleFunc(jobs.TaskSampleClips, w.handleSampleClips)

	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("asynq server stopped")
	}
}

var stageText = map[string]string{
	"extracting":  "Extracting…",
	"downloading": "Downloading…",
	"processing":  "Processing…",
	"sampling":    "Cutting previews…",
}

func (w *worker) progress(chatID int64, msgID int) pipeline.NotifyFunc {
	return func(stage string) {
		text, ok := stageText[stage]
		if !ok {
			text = stage
		}
		// Fire-and-forget; progress must never block the pipeline.
		go func() {
			_, _ = w.bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text))
		}()
	}
}

func (w *worker) handleDeliverURL(ctx context.Context, t *asynq.Task) error {
	var p jobs.DeliverURLPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	d, err := w.p.ResolveAndDeliver(ctx, p.URL, p.UserID, w.progress(p.ChatID, p.ProgressMsgID))
	if err != nil {
		w.edit(p.ChatID, p.ProgressMsgID, userMessage(err))
		return nil
	}
	defer d.Discard(ctx)

	total := len(d.Items)
	for i, it := range d.Items {
		caption := d.Title
		if total > 1 {
			caption = fmt.Sprintf("%s (part %d/%d)", d.Title, i+1, total)
		}
		if err := w.send(p.ChatID, it, caption); err != nil {
			log.Error().Err(err).Str("path", it.Artifact.Path).Msg("artifact send failed")
			w.edit(p.ChatID, p.ProgressMsgID, "Upload failed, sorry.")
			return nil
		}
	}
	w.edit(p.ChatID, p.ProgressMsgID, fmt.Sprintf("Done: %d file(s).", total))
	return nil
}

func (w *worker) handleSampleClips(ctx context.Context, t *asynq.Task) error {
	var p jobs.SampleClipsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	fileURL, err := w.bot.GetFileDirectURL(p.FileID)
	if err != nil {
		w.edit(p.ChatID, p.ProgressMsgID, "Could not fetch the uploaded file.")
		return nil
	}

	d, err := w.p.SampleClips(ctx, fileURL, p.UserID, w.progress(p.ChatID, p.ProgressMsgID))
	if err != nil {
		w.edit(p.ChatID, p.ProgressMsgID, userMessage(err))
		return nil
	}
	defer d.Discard(ctx)

	if len(d.Items) == 0 {
		w.edit(p.ChatID, p.ProgressMsgID, "Video is too short for previews.")
		return nil
	}
	for i, it := range d.Items {
		caption := fmt.Sprintf("Preview %d/%d", i+1, len(d.Items))
		if err := w.send(p.ChatID, it, caption); err != nil {
			log.Error().Err(err).Str("path", it.Artifact.Path).Msg("clip send failed")
		}
	}
	w.edit(p.ChatID, p.ProgressMsgID, fmt.Sprintf("Done: %d preview(s).", len(d.Items)))
	return nil
}

// send picks the transport per route: inline playable video or generic
// document upload.
func (w *worker) send(chatID int64, it planner.Item, caption string) error {
	file := tgbotapi.FilePath(it.Artifact.Path)
	if it.Route == planner.RouteInline && it.Artifact.Kind != media.KindDocument {
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		_, err := w.bot.Send(v)
		return err
	}
	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	_, err := w.bot.Send(doc)
	return err
}

func (w *worker) edit(chatID int64, msgID int, text string) {
	_, _ = w.bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text))
}

// userMessage maps internal failures to the short categories shown to the
// requester; raw errors never reach the chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return "Still working on your previous request."
	case errors.Is(err, resolver.ErrAllStrategiesFailed):
		return "Could not extract media from that link."
	case errors.Is(err, planner.ErrNoChunks):
		return "Failed to split the file."
	}
	var fe *fetch.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fetch.TooLarge:
			return "The file is too large to download."
		case fetch.BadStatus:
			return "The source refused the download."
		case fetch.Timeout:
			return "Download timed out."
		default:
			return "Download failed."
		}
	}
	return "Processing failed, sorry."
}
