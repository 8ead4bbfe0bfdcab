package media

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(Options{
		CacheDir: t.TempDir(),
		FFmpeg:   "definitely-not-a-real-binary",
		FFprobe:  "definitely-not-a-real-binary",
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeTestImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func decodeJPEG(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("output is not a valid JPEG: %v", err)
	}
	return img
}

func TestProcessor_Thumbnail(t *testing.T) {
	t.Run("scales large image down", func(t *testing.T) {
		p := newTestProcessor(t)
		src := writeTestImage(t, 1024, 512)
		b := p.Thumbnail(context.Background(), src, "img.png", 1, false)
		img := decodeJPEG(t, b)
		if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 128 {
			t.Errorf("unexpected thumb size %v", img.Bounds())
		}
	})

	t.Run("small image keeps dimensions", func(t *testing.T) {
		p := newTestProcessor(t)
		src := writeTestImage(t, 100, 80)
		b := p.Thumbnail(context.Background(), src, "img.png", 1, false)
		img := decodeJPEG(t, b)
		if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
			t.Errorf("unexpected thumb size %v", img.Bounds())
		}
	})

	t.Run("caches by path and mtime", func(t *testing.T) {
		p := newTestProcessor(t)
		src := writeTestImage(t, 512, 512)
		first := p.Thumbnail(context.Background(), src, "a/b.png", 7, false)

		// Delete the source; the cached thumb must still be served.
		if err := os.Remove(src); err != nil {
			t.Fatal(err)
		}
		second := p.Thumbnail(context.Background(), src, "a/b.png", 7, false)
		if !bytes.Equal(first, second) {
			t.Error("expected cached thumbnail bytes")
		}
	})

	t.Run("unreadable input degrades to placeholder", func(t *testing.T) {
		p := newTestProcessor(t)
		b := p.Thumbnail(context.Background(), "/nonexistent", "x", 1, false)
		if !bytes.Equal(b, p.Placeholder()) {
			t.Error("expected placeholder for unreadable input")
		}
		decodeJPEG(t, b)
	})

	t.Run("video without tool degrades to placeholder", func(t *testing.T) {
		p := newTestProcessor(t)
		b := p.Thumbnail(context.Background(), "/some/file.mp4", "file.mp4", 1, true)
		if !bytes.Equal(b, p.Placeholder()) {
			t.Error("expected placeholder when ffmpeg is missing")
		}
	})
}

func TestCacheKey(t *testing.T) {
	if cacheKey("a/b") == cacheKey("a_b") {
		t.Error("distinct paths share a cache key")
	}
	if cacheKey("movies/clip.mp4") != cacheKey("movies/clip.mp4") {
		t.Error("cache key is not stable for the same path")
	}
	if strings.ContainsAny(cacheKey(`x/y\z`), `/\`) {
		t.Error("cache key contains separator characters")
	}
}

func TestProcessor_ToolMissing(t *testing.T) {
	p := newTestProcessor(t)

	if p.ToolAvailable() {
		t.Skip("unexpected binary on PATH")
	}
	if _, err := p.ExtractAudio(context.Background(), "/x.mkv"); err == nil {
		t.Error("expected error without ffmpeg")
	}
	if _, err := p.Duration(context.Background(), "/x.mkv"); err == nil {
		t.Error("expected error without ffprobe")
	}
}

func TestCleanupService(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.jpg")
	newFile := filepath.Join(dir, "new.jpg")
	for _, f := range []string{oldFile, newFile} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatal(err)
	}

	cs := NewCleanupService(dir, time.Hour, 24*time.Hour)
	cs.runCleanup()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expected stale cache entry to be pruned")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("expected fresh cache entry to survive")
	}
}
