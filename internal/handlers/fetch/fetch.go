// Package fetch provides the fetch_page task handler: GET the task URL, then archive the
// page in a blob store.
package fetch

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/crawl-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-pipeline/internal/storage"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// FuncName is the func_name tasks use to select this handler.
const FuncName = "fetch_page"

// Fetcher performs the page GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (collyfetcher.Response, error)
}

// StatusError reports an HTTP response that cannot be archived.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Waiter delays a fetch until the target host may be hit again.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls where pages are archived and how hosts are paced.
type Config struct {
	Prefix      string
	ContentType string
	// Politeness is optional.
	Politeness Waiter
}

// Handler implements task.Handler for fetch_page.
type Handler struct {
	fetcher Fetcher
	blobs   storage.BlobStore
	cfg     Config
	logger  *zap.Logger
}

var _ task.Handler = (*Handler)(nil)

// New constructs the handler.
func New(fetcher Fetcher, blobs storage.BlobStore, cfg Config, logger *zap.Logger) *Handler {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{fetcher: fetcher, blobs: blobs, cfg: cfg, logger: logger.Named("fetch_page")}
}

// Crawl returns the page body. A 2xx response without a body is an empty result.
func (h *Handler) Crawl(ctx context.Context, t *task.Task) ([]byte, error) {
	if h.cfg.Politeness != nil {
		if err := h.cfg.Politeness.Wait(ctx, t.URL); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", t.URL, err)
			}
			return nil, task.NewCrawlError(fmt.Errorf("fetch %s: %w", t.URL, err))
		}
	}
	resp, err := h.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", t.URL, err)
		}
		return nil, task.NewCrawlError(fmt.Errorf("fetch %s: %w", t.URL, err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, task.NewCrawlError(fmt.Errorf("fetch %s: %w", t.URL, &StatusError{Code: resp.StatusCode}))
	}
	h.logger.Debug("page fetched",
		zap.String("task_id", t.ID),
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return resp.Body, nil
}

// Process archives payload at "<prefix>/<instance>/<task id>.html".
func (h *Handler) Process(ctx context.Context, t *task.Task, payload []byte) error {
	path := storage.PagePath(h.cfg.Prefix, t.InstanceID, t.ID)
	uri, err := h.blobs.PutObject(ctx, path, h.cfg.ContentType, payload)
	if err != nil {
		return task.NewProcessError(fmt.Errorf("archive %s: %w", path, err))
	}
	h.logger.Debug("page archived", zap.String("task_id", t.ID), zap.String("blob_uri", uri))
	return nil
}
