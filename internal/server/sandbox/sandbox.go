package sandbox

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// Sentinel errors for the path boundary.
var (
	ErrPathTraversal = errors.New("path escapes sandbox root")
	ErrNotEditable   = errors.New("path is not editable")
)

// CleanRel normalizes a caller-supplied path into a slash-separated relative
// path with no leading slash. "" means the sandbox root itself. Backslashes
// are treated as separators so Windows-style input cannot smuggle segments.
// Parent-directory segments are deliberately preserved, never folded away:
// deciding their fate is Resolve's job, and silently rewriting "a/../b" into
// "b" would turn escape attempts into accesses of unintended paths.
func CleanRel(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "/")
}

// Resolve joins rel under root and returns the absolute filesystem path.
// Any ".." segment, in any position or separator style, is rejected outright;
// the canonical-prefix check below is a backstop, not the primary defense.
// This is a pure string operation, checked before any filesystem call.
func Resolve(root, rel string) (string, error) {
	rel = CleanRel(rel)
	if strings.Contains(rel, "\x00") {
		return "", ErrPathTraversal
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", ErrPathTraversal
		}
	}
	rootClean := filepath.Clean(root)
	if rel == "" {
		return rootClean, nil
	}
	abs := filepath.Clean(filepath.Join(rootClean, filepath.FromSlash(rel)))
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return abs, nil
}

// IsEditable reports whether rel (a cleaned relative path) falls under one of
// the configured editable roots. A path is editable iff it equals a root or
// has "<root>/" as a prefix. This is policy on top of Resolve, not a
// substitute for it.
func IsEditable(rel string, editableRoots []string) bool {
	rel = CleanRel(rel)
	for _, r := range editableRoots {
		r = CleanRel(r)
		if r == "" {
			// Editable root "" means the whole sandbox is writable.
			return true
		}
		if rel == r || strings.HasPrefix(rel, r+"/") {
			return true
		}
	}
	return false
}

// CheckWritable returns ErrNotEditable unless rel is editable.
func CheckWritable(rel string, editableRoots []string) error {
	if !IsEditable(rel, editableRoots) {
		return ErrNotEditable
	}
	return nil
}

// CheckCreatable allows creation when the target or its parent directory is
// editable. The parent rule lets the first entry of an as-yet-nonexistent
// editable root be created.
func CheckCreatable(rel string, editableRoots []string) error {
	rel = CleanRel(rel)
	if IsEditable(rel, editableRoots) {
		return nil
	}
	if parent := path.Dir(rel); parent != "." && IsEditable(parent, editableRoots) {
		return nil
	}
	return ErrNotEditable
}
