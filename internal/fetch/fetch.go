// Package fetch streams a resolved URL to local storage under a byte budget.
// The ceiling is enforced mid-stream (a server may omit or lie about
// Content-Length); partial output is always deleted on failure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/you/tg-grabber/internal/logx"
	"github.com/you/tg-grabber/internal/media"
)

const readChunk = 64 * 1024

// ErrorKind classifies fetch failures.
type ErrorKind int

const (
	TooLarge ErrorKind = iota
	BadStatus
	IOError
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case TooLarge:
		return "too large"
	case BadStatus:
		return "bad status"
	case IOError:
		return "io error"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   ErrorKind
	Status int // set for BadStatus
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == BadStatus {
		return fmt.Sprintf("fetch: %s (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Fetcher struct {
	client *http.Client
}

func New(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch streams streamURL to destPath, failing with TooLarge as soon as the
// running byte counter exceeds maxBytes. The check runs once per read chunk,
// so the ceiling is soft by up to one chunk. The returned artifact carries
// the measured size, never the server-reported one. Callers apply an overall
// timeout through ctx.
func (f *Fetcher) Fetch(ctx context.Context, streamURL, destPath string, maxBytes int64) (media.Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return media.Artifact{}, &Error{Kind: IOError, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return media.Artifact{}, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return media.Artifact{}, &Error{Kind: BadStatus, Status: resp.StatusCode}
	}
	if resp.ContentLength > maxBytes {
		return media.Artifact{}, &Error{Kind: TooLarge, Err: fmt.Errorf("content-length %d exceeds budget %d", resp.ContentLength, maxBytes)}
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return media.Artifact{}, &Error{Kind: IOError, Err: err}
	}

	var written int64
	buf := make([]byte, readChunk)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return media.Artifact{}, fail(ctx, dst, destPath, &Error{Kind: IOError, Err: werr})
			}
			written += int64(n)
			if written > maxBytes {
				return media.Artifact{}, fail(ctx, dst, destPath, &Error{Kind: TooLarge, Err: fmt.Errorf("exceeded budget %d mid-stream", maxBytes)})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return media.Artifact{}, fail(ctx, dst, destPath, classify(rerr))
		}
	}

	if err := dst.Close(); err != nil {
		removeQuiet(ctx, destPath)
		return media.Artifact{}, &Error{Kind: IOError, Err: err}
	}
	return media.Artifact{Path: destPath, SizeBytes: written, Kind: media.KindVideo}, nil
}

func fail(ctx context.Context, dst *os.File, path string, e error) error {
	_ = dst.Close()
	removeQuiet(ctx, path)
	return e
}

func removeQuiet(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(err).Str("path", path).Msg("partial download not removed")
	}
}

func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Err: err}
	}
	return &Error{Kind: IOError, Err: err}
}
