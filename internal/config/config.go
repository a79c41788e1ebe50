package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full environment-driven configuration shared by the bot and
// the worker. Byte thresholds come in as megabytes and are stored as bytes.
type Config struct {
	BotToken  string
	RedisAddr string
	DataDir   string

	// Delivery thresholds.
	InlineLimitBytes   int64 // playable-inline ceiling
	TransferLimitBytes int64 // generic-transfer ceiling
	ChunkLimitBytes    int64 // per-chunk ceiling, strictly below TransferLimit
	MaxSourceBytes     int64 // bounded-fetch byte budget

	// Clip sampling defaults.
	ClipCount        int
	ClipSeconds      float64
	GuardBandSeconds float64

	// Timeouts.
	SubprocTimeout time.Duration
	ClipTimeout    time.Duration
	FetchTimeout   time.Duration

	// Quota and queue.
	DailyMax    int
	Concurrency int

	// External binaries.
	YtdlpBin   string
	FfmpegBin  string
	FfprobeBin string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func mustFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
	}
	return def
}

func mustBool(k string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return def
}

func megabytes(k string, defMB int) int64 {
	return int64(mustInt(k, defMB)) * 1024 * 1024
}

func seconds(k string, defS int) time.Duration {
	return time.Duration(mustInt(k, defS)) * time.Second
}

func Load() Config {
	return Config{
		BotToken:  os.Getenv("BOT_TOKEN"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		DataDir:   getenv("DATA_DIR", "/data"),

		InlineLimitBytes:   megabytes("INLINE_LIMIT_MB", 50),
		TransferLimitBytes: megabytes("TRANSFER_LIMIT_MB", 2000),
		ChunkLimitBytes:    megabytes("CHUNK_LIMIT_MB", 1900),
		MaxSourceBytes:     megabytes("MAX_SOURCE_MB", 2500),

		ClipCount:        mustInt("CLIP_COUNT", 3),
		ClipSeconds:      mustFloat("CLIP_SECONDS", 5),
		GuardBandSeconds: mustFloat("GUARD_BAND_SECONDS", 10),

		SubprocTimeout: seconds("SUBPROC_TIMEOUT_S", 120),
		ClipTimeout:    seconds("CLIP_TIMEOUT_S", 90),
		FetchTimeout:   seconds("FETCH_TIMEOUT_S", 600),

		DailyMax:    mustInt("DAILY_MAX", 200),
		Concurrency: mustInt("CONCURRENCY", 2),

		YtdlpBin:   getenv("YTDLP_BIN", "yt-dlp"),
		FfmpegBin:  getenv("FFMPEG_BIN", "ffmpeg"),
		FfprobeBin: getenv("FFPROBE_BIN", "ffprobe"),
	}
}
