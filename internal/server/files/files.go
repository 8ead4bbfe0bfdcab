package files

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"medley/internal/server/sandbox"
)

// Sentinel errors for filesystem operations.
var (
	ErrNotFound = errors.New("file not found")
	ErrConflict = errors.New("destination already exists")
	ErrNotDir   = errors.New("not a directory")
	ErrIsDir    = errors.New("is a directory")
)

// Entry describes one directory listing item.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Mime  string `json:"mime,omitempty"`
}

// Service performs filesystem operations confined to one sandbox root.
// Every path goes through sandbox.Resolve before any filesystem call;
// permission policy (editable roots, share restrictions) is enforced by the
// caller before invoking a mutation.
type Service struct {
	root string
}

// NewService creates a service rooted at the absolute directory root.
func NewService(root string) *Service {
	return &Service{root: filepath.Clean(root)}
}

// Root returns the absolute sandbox root.
func (s *Service) Root() string {
	return s.root
}

// Resolve validates rel against the sandbox root.
func (s *Service) Resolve(rel string) (string, error) {
	return sandbox.Resolve(s.root, rel)
}

// Stat returns the entry for rel.
func (s *Service) Stat(rel string) (Entry, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return Entry{}, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	return Entry{
		Name:  st.Name(),
		Path:  sandbox.CleanRel(rel),
		IsDir: st.IsDir(),
		Size:  st.Size(),
		Mtime: st.ModTime().Unix(),
		Mime:  mimeFor(st.Name(), st.IsDir()),
	}, nil
}

// List returns the sorted contents of the directory at rel, directories
// first, then names case-insensitively.
func (s *Service) List(rel string) ([]Entry, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if !st.IsDir() {
		return nil, ErrNotDir
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", rel, err)
	}

	rel = sandbox.CleanRel(rel)
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		info, err := e.Info()
		if err != nil {
			continue
		}
		childRel := e.Name()
		if rel != "" {
			childRel = rel + "/" + e.Name()
		}
		out = append(out, Entry{
			Name:  e.Name(),
			Path:  childRel,
			IsDir: e.IsDir(),
			Size:  info.Size(),
			Mtime: info.ModTime().Unix(),
			Mime:  mimeFor(e.Name(), e.IsDir()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Create writes a new file (or directory when isDir) at rel. The target must
// not exist yet.
func (s *Service) Create(rel string, isDir bool, content []byte) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err == nil {
		return ErrConflict
	}
	if isDir {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", rel, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("failed to create file %s: %w", rel, err)
	}
	return nil
}

// Edit replaces the content of an existing regular file.
func (s *Service) Edit(rel string, content []byte) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if st.IsDir() {
		return ErrIsDir
	}
	if err := os.WriteFile(abs, content, st.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Delete removes the file or directory tree at rel.
func (s *Service) Delete(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return nil
}

// Rename moves from to to. The destination must not exist.
func (s *Service) Rename(from, to string) error {
	fromAbs, err := s.Resolve(from)
	if err != nil {
		return err
	}
	toAbs, err := s.Resolve(to)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(fromAbs); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", from, err)
	}
	if _, err := os.Lstat(toAbs); err == nil {
		return ErrConflict
	}
	if err := os.MkdirAll(filepath.Dir(toAbs), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", to, err)
	}
	if err := os.Rename(fromAbs, toAbs); err != nil {
		return fmt.Errorf("failed to rename %s: %w", from, err)
	}
	return nil
}

// Copy duplicates a file or directory tree. The destination must not exist.
func (s *Service) Copy(from, to string) error {
	fromAbs, err := s.Resolve(from)
	if err != nil {
		return err
	}
	toAbs, err := s.Resolve(to)
	if err != nil {
		return err
	}
	st, err := os.Stat(fromAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", from, err)
	}
	if _, err := os.Lstat(toAbs); err == nil {
		return ErrConflict
	}
	if st.IsDir() {
		return copyTree(fromAbs, toAbs)
	}
	return copyFile(fromAbs, toAbs)
}

// SaveUpload streams r into a new file named name inside the directory at
// dirRel, returning the bytes written. A partial file is removed on error.
func (s *Service) SaveUpload(dirRel, name string, r io.Reader) (int64, error) {
	name = sanitizeName(name)
	rel := sandbox.CleanRel(dirRel)
	if rel != "" {
		rel += "/"
	}
	abs, err := s.Resolve(rel + name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}
	dst, err := os.Create(abs)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	n, err := io.Copy(dst, r)
	cerr := dst.Close()
	if err != nil {
		os.Remove(abs)
		return 0, fmt.Errorf("failed to write upload %s: %w", name, err)
	}
	if cerr != nil {
		os.Remove(abs)
		return 0, fmt.Errorf("failed to finish upload %s: %w", name, cerr)
	}
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials are skipped rather than followed.
			return nil
		}
		return copyFile(p, target)
	})
}

// sanitizeName strips directory components from an upload filename.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	return name
}

// mimeFor guesses a content type by extension, with fallbacks for media
// types that sparse system mime tables miss.
func mimeFor(name string, isDir bool) string {
	if isDir {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	switch ext {
	case ".mkv":
		return "video/x-matroska"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// ContentType exposes the mime guess for streaming handlers.
func ContentType(name string) string {
	return mimeFor(name, false)
}

// IsImage reports whether name has a decodable image extension.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// IsVideo reports whether name looks like a video container.
func IsVideo(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".webm", ".mkv", ".mov", ".avi":
		return true
	}
	return false
}
