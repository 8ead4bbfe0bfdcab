package share

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"

	"medley/internal/server/sandbox"
	"medley/internal/server/store"
)

// Sentinel errors for the share layer.
var (
	ErrNotFound   = errors.New("share not found")
	ErrQuota      = errors.New("upload quota exceeded")
	ErrRootDelete = errors.New("cannot delete the root of a share through the share itself")
)

// DefaultQuota is the upload budget applied to new editable shares.
const DefaultQuota uint64 = 2 << 30 // 2 GiB

// QuotaError is the concrete error for a rejected upload. It matches
// ErrQuota under errors.Is and carries the byte budget still available so
// the boundary can report it to the visitor.
type QuotaError struct {
	Remaining uint64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("upload quota exceeded, %d bytes remaining", e.Remaining)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuota }

// Restrictions controls what an anonymous visitor may do with an editable
// share. MaxUploadBytes of 0 means unlimited.
type Restrictions struct {
	AllowUpload    bool   `json:"allowUpload"`
	AllowEdit      bool   `json:"allowEdit"`
	AllowDelete    bool   `json:"allowDelete"`
	MaxUploadBytes uint64 `json:"maxUploadBytes"`
}

// Record is one share entry. Identity is the token. Path is sandbox-relative
// and must be re-validated through the sandbox on every use; it is never
// trusted as already-safe.
type Record struct {
	Token        string       `json:"token"`
	Path         string       `json:"path"`
	IsDirectory  bool         `json:"isDirectory"`
	Editable     bool         `json:"editable"`
	Passcode     string       `json:"passcode,omitempty"`
	Restrictions Restrictions `json:"restrictions"`
	UsedBytes    uint64       `json:"usedBytes"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Protected reports whether visitors must supply a passcode.
func (r Record) Protected() bool {
	return r.Passcode != ""
}

// Registry provides CRUD over share records for one sandbox root, persisted
// through the shared concurrent store. The document is keyed by root so
// multiple roots never collide in the same file.
type Registry struct {
	store       *store.Store[map[string]map[string]Record]
	root        string
	authEnabled bool
}

// NewRegistry opens the share document at path, scoped to the given
// sandbox-root identifier. authEnabled controls passcode generation for new
// shares.
func NewRegistry(path, root string, authEnabled bool) *Registry {
	return &Registry{
		store: store.New(path, func() map[string]map[string]Record {
			return map[string]map[string]Record{}
		}),
		root:        root,
		authEnabled: authEnabled,
	}
}

// Create registers a share for rel, deduplicated by exact path: sharing an
// already-shared path returns the existing record unchanged. When editable
// and no restrictions are given, uploads/edits/deletes are allowed with the
// default quota.
func (g *Registry) Create(rel string, isDir, editable bool, restr *Restrictions) (Record, error) {
	rel = sandbox.CleanRel(rel)

	var out Record
	_, err := g.store.Update(func(doc map[string]map[string]Record) (map[string]map[string]Record, error) {
		shares := doc[g.root]
		if shares == nil {
			shares = map[string]Record{}
		}
		for _, rec := range shares {
			if rec.Path == rel {
				out = rec
				return doc, nil
			}
		}

		token, err := NewToken()
		if err != nil {
			return nil, err
		}
		rec := Record{
			Token:       token,
			Path:        rel,
			IsDirectory: isDir,
			Editable:    editable,
			CreatedAt:   time.Now().UTC(),
		}
		if g.authEnabled {
			pc, err := NewPasscode()
			if err != nil {
				return nil, err
			}
			rec.Passcode = pc
		}
		if editable {
			if restr != nil {
				rec.Restrictions = *restr
			} else {
				rec.Restrictions = Restrictions{
					AllowUpload:    true,
					AllowEdit:      true,
					AllowDelete:    true,
					MaxUploadBytes: DefaultQuota,
				}
			}
		}
		shares[token] = rec
		doc[g.root] = shares
		out = rec
		return doc, nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// Get returns the record for token, or ErrNotFound.
func (g *Registry) Get(token string) (Record, error) {
	doc, err := g.store.Read()
	if err != nil {
		return Record{}, err
	}
	rec, ok := doc[g.root][token]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns all shares for this root.
func (g *Registry) List() ([]Record, error) {
	doc, err := g.store.Read()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc[g.root]))
	for _, rec := range doc[g.root] {
		out = append(out, rec)
	}
	return out, nil
}

// UpdateRestrictions replaces the restriction flags of an existing share.
func (g *Registry) UpdateRestrictions(token string, restr Restrictions) (Record, error) {
	var out Record
	_, err := g.store.Update(func(doc map[string]map[string]Record) (map[string]map[string]Record, error) {
		rec, ok := doc[g.root][token]
		if !ok {
			return nil, ErrNotFound
		}
		rec.Restrictions = restr
		doc[g.root][token] = rec
		out = rec
		return doc, nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// Delete revokes a share. Returns ErrNotFound when the token is unknown.
func (g *Registry) Delete(token string) error {
	_, err := g.store.Update(func(doc map[string]map[string]Record) (map[string]map[string]Record, error) {
		if _, ok := doc[g.root][token]; !ok {
			return nil, ErrNotFound
		}
		delete(doc[g.root], token)
		return doc, nil
	})
	return err
}

// AddUsedBytes charges n bytes against the share's quota inside the store's
// critical section, so concurrent uploads cannot jointly skip the charge.
// usedBytes only increases.
func (g *Registry) AddUsedBytes(token string, n uint64) (Record, error) {
	var out Record
	_, err := g.store.Update(func(doc map[string]map[string]Record) (map[string]map[string]Record, error) {
		rec, ok := doc[g.root][token]
		if !ok {
			return nil, ErrNotFound
		}
		rec.UsedBytes += n
		doc[g.root][token] = rec
		out = rec
		return doc, nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// ResolveSubPath maps a visitor-supplied sub-path to a sandbox-relative path.
// A file share resolves only the empty sub-path (or ".") to its own path; it
// can never be used to browse outside itself. A directory share joins the
// sub-path under the share root; any parent-traversal segment is rejected
// outright, and the joined result must stay at or below the share root.
func ResolveSubPath(rec Record, sub string) (string, bool) {
	if !rec.IsDirectory {
		if sub == "" || sub == "." || sub == "/" {
			return rec.Path, true
		}
		return "", false
	}
	// Reject ".." before joining: path.Join would otherwise collapse
	// "docs/../secret" and mask the escape attempt behind the prefix check.
	for _, seg := range strings.Split(strings.ReplaceAll(sub, "\\", "/"), "/") {
		if seg == ".." {
			return "", false
		}
	}
	sub = sandbox.CleanRel(sub)
	if sub == "" {
		return rec.Path, true
	}
	joined := path.Join(rec.Path, sub)
	if joined != rec.Path && !strings.HasPrefix(joined, rec.Path+"/") {
		return "", false
	}
	return joined, true
}

// CheckUploadQuota reports whether incoming bytes fit under the share's
// budget and how many bytes remain. remaining is meaningful only when a
// quota is set. The subsequent usedBytes increment is a separate call; under
// concurrency the quota may overshoot by at most one in-flight request's
// size, which is a documented limitation.
func CheckUploadQuota(rec Record, incoming uint64) (allowed bool, remaining uint64) {
	if rec.Restrictions.MaxUploadBytes == 0 {
		return true, 0
	}
	if rec.UsedBytes >= rec.Restrictions.MaxUploadBytes {
		return false, 0
	}
	remaining = rec.Restrictions.MaxUploadBytes - rec.UsedBytes
	return incoming <= remaining, remaining
}

// NewToken returns 128 bits of randomness as a URL-safe string.
func NewToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// passcodeAlphabet excludes look-alike characters (0/O, 1/I/L).
const passcodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewPasscode returns a 6-character human-typable passcode.
func NewPasscode() (string, error) {
	out := make([]byte, 6)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passcodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		out[i] = passcodeAlphabet[n.Int64()]
	}
	return string(out), nil
}
