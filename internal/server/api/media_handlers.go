package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"medley/internal/server/files"
	"medley/internal/server/sandbox"
	"medley/internal/server/stream"

	"github.com/labstack/echo/v4"
)

const sseKeepAlive = 30 * time.Second

// HandleMedia handles GET/HEAD /media/*. Streams the file with byte-range
// support and records a view on full requests.
func (h *Handler) HandleMedia(c echo.Context) error {
	rel := sandbox.CleanRel(c.Param("*"))
	abs, err := h.files.Resolve(rel)
	if err != nil {
		return mapError(c, err)
	}
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}
	if entry.IsDir {
		return mapError(c, files.ErrIsDir)
	}

	// Only count the initial request, not every range continuation.
	if c.Request().Method == http.MethodGet && c.Request().Header.Get("Range") == "" {
		if err := h.stats.RecordView(rel); err != nil {
			slog.Warn("failed to record view", "path", rel, "error", err)
		}
	}

	if err := stream.ServeFile(c.Response(), c.Request(), abs, files.ContentType(entry.Name)); err != nil {
		return mapError(c, err)
	}
	return nil
}

// HandleThumbnail handles GET /thumbnail/*. Always returns a JPEG; failures
// degrade to a generated placeholder rather than an error page.
func (h *Handler) HandleThumbnail(c echo.Context) error {
	rel := sandbox.CleanRel(c.Param("*"))
	abs, err := h.files.Resolve(rel)
	if err != nil {
		return mapError(c, err)
	}
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}

	var data []byte
	switch {
	case entry.IsDir:
		data = h.media.Placeholder()
	case files.IsImage(entry.Name) || files.IsVideo(entry.Name):
		data = h.media.Thumbnail(c.Request().Context(), abs, rel, entry.Mtime, files.IsVideo(entry.Name))
	default:
		data = h.media.Placeholder()
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	c.Response().Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%s-%d", path.Base(rel), entry.Mtime)))
	return c.Blob(http.StatusOK, "image/jpeg", data)
}

// HandleMediaInfo handles GET /api/media/info?path=. Returns the file
// entry plus the probed duration for audio/video content.
func (h *Handler) HandleMediaInfo(c echo.Context) error {
	rel := sandbox.CleanRel(c.QueryParam("path"))
	abs, err := h.files.Resolve(rel)
	if err != nil {
		return mapError(c, err)
	}
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}

	resp := echo.Map{"entry": entry}
	if !entry.IsDir && files.IsVideo(entry.Name) {
		if d, err := h.media.Duration(c.Request().Context(), abs); err == nil {
			resp["duration"] = d
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleAudio handles GET /api/audio?path=. Extracts the primary audio
// track of a video without re-encoding.
func (h *Handler) HandleAudio(c echo.Context) error {
	rel := sandbox.CleanRel(c.QueryParam("path"))
	abs, err := h.files.Resolve(rel)
	if err != nil {
		return mapError(c, err)
	}
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}
	if entry.IsDir {
		return mapError(c, files.ErrIsDir)
	}

	data, err := h.media.ExtractAudio(c.Request().Context(), abs)
	if err != nil {
		return mapError(c, err)
	}

	// Served from memory so the client can seek within the track.
	name := entry.Name + ".mka"
	c.Response().Header().Set("Content-Type", "audio/x-matroska")
	http.ServeContent(c.Response(), c.Request(), name, time.Unix(entry.Mtime, 0), bytes.NewReader(data))
	return nil
}

// HandleEvents handles GET /api/events. Server-sent events: one "change"
// event per directory mutation plus periodic keepalive comments.
func (h *Handler) HandleEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	slog.Debug("sse subscriber connected", "id", id)

	keepalive := time.NewTicker(sseKeepAlive)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				// Dropped by the hub after falling behind.
				return nil
			}
			fmt.Fprintf(w, "event: change\ndata: {\"dir\":%q}\n\n", ev.Dir)
			w.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			w.Flush()
		}
	}
}
