package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// ErrUnsatisfiable marks a syntactically valid range that does not fit the
// file, mapped to 416 at the boundary.
var ErrUnsatisfiable = errors.New("requested range not satisfiable")

// Range is a derived, per-request byte window. Invariant: Start <= End < size.
type Range struct {
	Start int64
	End   int64 // inclusive
}

// Length returns the number of body bytes for the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a header of the form "bytes=<start>-[<end>]" against the
// file size. An empty or unrecognized header yields (nil, nil): the caller
// serves the full content. A recognized but out-of-bounds range yields
// ErrUnsatisfiable.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}
	// Only the single-range form is supported; anything else falls back to
	// full content.
	if strings.Contains(spec, ",") {
		return nil, nil
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" {
		return nil, nil
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}

	end := size - 1
	if s := strings.TrimSpace(endStr); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, nil
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size || start > end {
		return nil, ErrUnsatisfiable
	}
	return &Range{Start: start, End: end}, nil
}

// ServeFile streams path, honoring a byte-range request. The body is
// produced lazily from the open file handle with a bounded copy, never
// buffered whole, so arbitrarily large files stream under bounded memory. A
// client disconnect surfaces as a write error that stops the copy; the file
// handle is released on return.
func ServeFile(w http.ResponseWriter, req *http.Request, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	rng, err := ParseRange(req.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil {
		return err
	}

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodHead {
			return nil
		}
		_, err = io.Copy(w, f)
		return err
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if req.Method == http.MethodHead {
		return nil
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		return err
	}
	_, err = io.CopyN(w, f, rng.Length())
	return err
}
