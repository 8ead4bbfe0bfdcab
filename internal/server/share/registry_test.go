package share

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T, authEnabled bool) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "shares.json"), "/srv/media", authEnabled)
}

func TestRegistry_Create(t *testing.T) {
	t.Run("generates URL-safe token", func(t *testing.T) {
		g := newTestRegistry(t, false)
		rec, err := g.Create("docs", true, false, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rec.Token) < 20 {
			t.Errorf("token too short for 128 bits: %q", rec.Token)
		}
		if strings.ContainsAny(rec.Token, "+/=") {
			t.Errorf("token not URL-safe: %q", rec.Token)
		}
		if rec.Passcode != "" {
			t.Errorf("expected no passcode without auth, got %q", rec.Passcode)
		}
	})

	t.Run("passcode only when auth enabled", func(t *testing.T) {
		g := newTestRegistry(t, true)
		rec, err := g.Create("docs", true, false, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rec.Passcode) != 6 {
			t.Fatalf("expected 6-char passcode, got %q", rec.Passcode)
		}
		for _, c := range rec.Passcode {
			if !strings.ContainsRune(passcodeAlphabet, c) {
				t.Errorf("passcode contains ambiguous character %q", c)
			}
		}
	})

	t.Run("deduplicates by exact path", func(t *testing.T) {
		g := newTestRegistry(t, false)
		first, err := g.Create("docs", true, true, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := g.Create("docs", true, false, &Restrictions{AllowUpload: false})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// The original record wins, including its restrictions.
		if second.Token != first.Token {
			t.Errorf("expected existing token %q, got %q", first.Token, second.Token)
		}
		if !second.Restrictions.AllowUpload {
			t.Error("expected original restrictions to be preserved")
		}
	})

	t.Run("editable defaults", func(t *testing.T) {
		g := newTestRegistry(t, false)
		rec, err := g.Create("uploads", true, true, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r := rec.Restrictions
		if !r.AllowUpload || !r.AllowEdit || !r.AllowDelete {
			t.Errorf("expected all operations allowed by default, got %+v", r)
		}
		if r.MaxUploadBytes != DefaultQuota {
			t.Errorf("expected default quota %d, got %d", DefaultQuota, r.MaxUploadBytes)
		}
	})
}

func TestRegistry_Revoke(t *testing.T) {
	g := newTestRegistry(t, false)
	rec, err := g.Create("docs", true, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := g.Delete(rec.Token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Get(rec.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
	list, err := g.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty listing after revoke, got %d entries", len(list))
	}
	if err := g.Delete(rec.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double revoke, got %v", err)
	}
}

func TestRegistry_UpdateRestrictions(t *testing.T) {
	g := newTestRegistry(t, false)
	rec, err := g.Create("uploads", true, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := g.UpdateRestrictions(rec.Token, Restrictions{
		AllowUpload:    true,
		MaxUploadBytes: 1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Restrictions.AllowDelete {
		t.Error("expected delete to be disallowed after update")
	}
	if updated.Restrictions.MaxUploadBytes != 1024 {
		t.Errorf("expected quota 1024, got %d", updated.Restrictions.MaxUploadBytes)
	}

	if _, err := g.UpdateRestrictions("missing", Restrictions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestResolveSubPath(t *testing.T) {
	t.Run("directory share", func(t *testing.T) {
		rec := Record{Path: "docs", IsDirectory: true}

		cases := []struct {
			sub  string
			want string
			ok   bool
		}{
			{"", "docs", true},
			{".", "docs", true},
			{"sub/page.md", "docs/sub/page.md", true},
			{"../secret", "", false},
			{"sub/../../secret", "", false},
			{`..\secret`, "", false},
			{"/abs/injection", "docs/abs/injection", true},
		}
		for _, c := range cases {
			got, ok := ResolveSubPath(rec, c.sub)
			if ok != c.ok || got != c.want {
				t.Errorf("ResolveSubPath(%q) = (%q, %v), want (%q, %v)", c.sub, got, ok, c.want, c.ok)
			}
		}
	})

	t.Run("file share resolves only itself", func(t *testing.T) {
		rec := Record{Path: "report.pdf", IsDirectory: false}

		for _, sub := range []string{"", "."} {
			got, ok := ResolveSubPath(rec, sub)
			if !ok || got != "report.pdf" {
				t.Errorf("ResolveSubPath(%q) = (%q, %v), want (report.pdf, true)", sub, got, ok)
			}
		}
		for _, sub := range []string{"other", "../x", "report.pdf"} {
			if _, ok := ResolveSubPath(rec, sub); ok {
				t.Errorf("expected sub-path %q to be rejected for a file share", sub)
			}
		}
	})
}

func TestQuotaError(t *testing.T) {
	err := &QuotaError{Remaining: 100}
	if !errors.Is(err, ErrQuota) {
		t.Error("QuotaError does not match ErrQuota")
	}
	var qe *QuotaError
	if !errors.As(err, &qe) || qe.Remaining != 100 {
		t.Errorf("remaining bytes lost through the error chain: %v", err)
	}
}

func TestCheckUploadQuota(t *testing.T) {
	rec := Record{
		UsedBytes:    900,
		Restrictions: Restrictions{MaxUploadBytes: 1000},
	}

	t.Run("over budget", func(t *testing.T) {
		allowed, remaining := CheckUploadQuota(rec, 150)
		if allowed {
			t.Error("expected quota denial")
		}
		if remaining != 100 {
			t.Errorf("expected remaining 100, got %d", remaining)
		}
	})

	t.Run("exactly fits", func(t *testing.T) {
		allowed, _ := CheckUploadQuota(rec, 100)
		if !allowed {
			t.Error("expected quota approval")
		}
	})

	t.Run("unlimited when zero", func(t *testing.T) {
		allowed, _ := CheckUploadQuota(Record{Restrictions: Restrictions{}}, 1 << 40)
		if !allowed {
			t.Error("expected unlimited quota to allow any size")
		}
	})

	t.Run("already exhausted", func(t *testing.T) {
		exhausted := Record{UsedBytes: 1000, Restrictions: Restrictions{MaxUploadBytes: 1000}}
		allowed, remaining := CheckUploadQuota(exhausted, 1)
		if allowed || remaining != 0 {
			t.Errorf("expected (false, 0), got (%v, %d)", allowed, remaining)
		}
	})
}

func TestRegistry_AddUsedBytes(t *testing.T) {
	g := newTestRegistry(t, false)
	rec, err := g.Create("uploads", true, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := g.AddUsedBytes(rec.Token, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.UsedBytes != 500 {
		t.Errorf("expected 500 used bytes, got %d", updated.UsedBytes)
	}
	updated, err = g.AddUsedBytes(rec.Token, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.UsedBytes != 750 {
		t.Errorf("expected 750 used bytes, got %d", updated.UsedBytes)
	}
}
