package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrToolUnavailable means the external transcoding tool is missing or
// failed. Thumbnails fall back to a placeholder; user-triggered audio
// extraction reports it.
var ErrToolUnavailable = errors.New("transcoding tool unavailable")

const thumbSize = 256

// Options configures the media processor.
type Options struct {
	CacheDir string
	FFmpeg   string // binary name or path, default "ffmpeg"
	FFprobe  string // default "ffprobe"
	Timeout  time.Duration
}

// Processor produces thumbnails, duration probes and audio extractions.
// External-tool availability is checked once and cached for the process
// lifetime; tool paths are immutable after startup.
type Processor struct {
	opts Options

	toolOnce sync.Once
	hasTool  bool

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewProcessor creates a processor caching thumbnails under opts.CacheDir.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache: %w", err)
	}
	return &Processor{opts: opts}, nil
}

// ToolAvailable reports whether ffmpeg can be found on this host.
func (p *Processor) ToolAvailable() bool {
	p.toolOnce.Do(func() {
		_, err := exec.LookPath(p.opts.FFmpeg)
		p.hasTool = err == nil
		if !p.hasTool {
			slog.Warn("ffmpeg not found, video thumbnails and audio extraction disabled", "binary", p.opts.FFmpeg)
		}
	})
	return p.hasTool
}

// Thumbnail returns JPEG thumbnail bytes for the file at abs. Results are
// cached on disk keyed by the relative path and mtime. Failures of any kind
// degrade to a placeholder image rather than an error.
func (p *Processor) Thumbnail(ctx context.Context, abs, rel string, mtime int64, isVideo bool) []byte {
	cachePath := filepath.Join(p.opts.CacheDir, cacheKey(rel)+"-"+strconv.FormatInt(mtime, 10)+".jpg")
	if b, err := os.ReadFile(cachePath); err == nil {
		return b
	}

	var b []byte
	var err error
	if isVideo {
		b, err = p.videoFrame(ctx, abs)
	} else {
		b, err = imageThumb(abs)
	}
	if err != nil {
		slog.Debug("thumbnail generation failed", "path", rel, "error", err)
		return p.Placeholder()
	}
	if err := os.WriteFile(cachePath, b, 0o644); err != nil {
		slog.Warn("failed to cache thumbnail", "path", rel, "error", err)
	}
	return b
}

// Duration probes the media duration in seconds via ffprobe, bounded by the
// configured timeout. Fails closed to zero.
func (p *Processor) Duration(ctx context.Context, abs string) (float64, error) {
	if !p.ToolAvailable() {
		return 0, ErrToolUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.opts.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		abs,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad duration output", ErrToolUnavailable)
	}
	return d, nil
}

// ExtractAudio copies the first audio stream out of the container without
// re-encoding and returns it fully buffered. The total length of the derived
// stream is unknown until produced, so buffering once per request is the
// accepted trade-off that enables byte-range seeking; it applies to small
// audio tracks only, never video.
func (p *Processor) ExtractAudio(ctx context.Context, abs string) ([]byte, error) {
	if !p.ToolAvailable() {
		return nil, ErrToolUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, p.opts.FFmpeg,
		"-v", "error",
		"-i", abs,
		"-vn",
		"-map", "0:a:0",
		"-c:a", "copy",
		"-f", "matroska",
		"pipe:1",
	)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return out.Bytes(), nil
}

// videoFrame grabs one scaled frame a few seconds in.
func (p *Processor) videoFrame(ctx context.Context, abs string) ([]byte, error) {
	if !p.ToolAvailable() {
		return nil, ErrToolUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, p.opts.FFmpeg,
		"-v", "error",
		"-ss", "3",
		"-i", abs,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", thumbSize),
		"-f", "mjpeg",
		"pipe:1",
	)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrToolUnavailable)
	}
	return out.Bytes(), nil
}

// imageThumb decodes and scales an image to a bounded JPEG.
func imageThumb(abs string) ([]byte, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	nw, nh := w, h
	if w >= h && w > thumbSize {
		nw = thumbSize
		nh = h * thumbSize / w
	} else if h > w && h > thumbSize {
		nh = thumbSize
		nw = w * thumbSize / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Placeholder returns a neutral gray JPEG used when generation fails.
func (p *Processor) Placeholder() []byte {
	p.placeholderOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, thumbSize, thumbSize*9/16))
		gray := color.RGBA{R: 0x3a, G: 0x3a, B: 0x3f, A: 0xff}
		for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
			for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
				img.Set(x, y, gray)
			}
		}
		var out bytes.Buffer
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 60}); err == nil {
			p.placeholder = out.Bytes()
		}
	})
	return p.placeholder
}

// cacheKey derives a filename-safe cache key from a relative path. Hashing
// keeps distinct paths distinct; flattening separators would make "a/b" and
// "a_b" share one cache file.
func cacheKey(rel string) string {
	sum := sha256.Sum256([]byte(rel))
	return hex.EncodeToString(sum[:16])
}
