package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-grabber/internal/config"
	"github.com/you/tg-grabber/internal/jobs"
	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/quota"
)

var rctx = context.Background()

type server struct {
	cfg   config.Config
	bot   *tgbotapi.BotAPI
	asynq *asynq.Client
	quota *quota.Store
}

func main() {
	_ = godotenv.Load()
	c := config.Load()

	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	// health endpoint
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
		log.Info().Msg("bot health on :8080/health")
		log.Error().Err(http.ListenAndServe(":8080", nil)).Msg("health server stopped")
	}()

	bot, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	bot.Debug = false
	log.Info().Str("username", bot.Self.UserName).Msg("bot authorized")

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	s := &server{
		cfg:   c,
		bot:   bot,
		asynq: asynq.NewClient(asynq.RedisClientOpt{Addr: c.RedisAddr}),
		quota: quota.New(rdb, c.DailyMax),
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	for upd := range bot.GetUpdatesChan(u) {
		if upd.Message != nil {
			s.onMessage(upd.Message)
		}
	}
}

func (s *server) onMessage(m *tgbotapi.Message) {
	log.Info().
		Int64("chat_id", m.Chat.ID).
		Int64("user_id", m.From.ID).
		Msg("message received")

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			rem, _ := s.quota.Remaining(rctx, m.From.ID)
			msg := "Send a video link and I will fetch and deliver it.\n" +
				"Upload a video to get short previews instead.\n" +
				fmt.Sprintf("Daily cap: %d outputs. Remaining today: %d.", s.cfg.DailyMax, rem)
			s.reply(m.Chat.ID, msg)
		case "stats":
			n, _ := s.quota.Downloads(rctx, m.From.ID)
			rem, _ := s.quota.Remaining(rctx, m.From.ID)
			s.reply(m.Chat.ID, fmt.Sprintf("Downloads so far: %d. Remaining today: %d.", n, rem))
		default:
			s.reply(m.Chat.ID, "Unknown command. Send a video link or upload a video.")
		}
		return
	}

	// Uploaded video -> preview clips.
	if fileID, name, ok := extractVideo(m); ok {
		s.enqueueClips(m, fileID, name)
		return
	}

	// Link -> resolve and deliver.
	if link, ok := extractURL(m.Text); ok {
		s.enqueueDeliver(m, link)
		return
	}
}

func (s *server) enqueueDeliver(m *tgbotapi.Message, link string) {
	// Advisory pre-check; the worker performs the authoritative charge.
	if ok, _, err := s.quota.Allow(rctx, m.From.ID, 1); err == nil && !ok {
		s.reply(m.Chat.ID, fmt.Sprintf("Daily limit reached (%d). Try again tomorrow.", s.cfg.DailyMax))
		return
	}

	sent, _ := s.bot.Send(tgbotapi.NewMessage(m.Chat.ID, "Queued…"))
	payload := jobs.DeliverURLPayload{
		ChatID:        m.Chat.ID,
		UserID:        m.From.ID,
		URL:           link,
		ProgressMsgID: sent.MessageID,
	}
	b, _ := json.Marshal(payload)
	if _, err := s.asynq.EnqueueContext(rctx, asynq.NewTask(jobs.TaskDeliverURL, b), asynq.MaxRetry(0)); err != nil {
		log.Error().Err(err).Msg("asynq enqueue deliver:url failed")
		s.reply(m.Chat.ID, "Queue error: "+err.Error())
	}
}

func (s *server) enqueueClips(m *tgbotapi.Message, fileID, name string) {
	sent, _ := s.bot.Send(tgbotapi.NewMessage(m.Chat.ID, "Queued…"))
	payload := jobs.SampleClipsPayload{
		ChatID:        m.Chat.ID,
		UserID:        m.From.ID,
		FileID:        fileID,
		FileName:      name,
		ProgressMsgID: sent.MessageID,
	}
	b, _ := json.Marshal(payload)
	if _, err := s.asynq.EnqueueContext(rctx, asynq.NewTask(jobs.TaskSampleClips, b), asynq.MaxRetry(0)); err != nil {
		log.Error().Err(err).Msg("asynq enqueue clips:sample failed")
		s.reply(m.Chat.ID, "Queue error: "+err.Error())
	}
}

func (s *server) reply(chatID int64, text string) {
	_, _ = s.bot.Send(tgbotapi.NewMessage(chatID, text))
}

func extractVideo(m *tgbotapi.Message) (fileID, name string, ok bool) {
	if m.Video != nil {
		return m.Video.FileID, "", true
	}
	if m.Document != nil && strings.HasPrefix(strings.ToLower(m.Document.MimeType), "video/") {
		return m.Document.FileID, m.Document.FileName, true
	}
	return "", "", false
}

func extractURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	u, err := url.Parse(text)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return text, true
}
