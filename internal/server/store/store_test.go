package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type testDoc struct {
	Counter int      `json:"counter"`
	Items   []string `json:"items"`
}

func newTestStore(t *testing.T) *Store[testDoc] {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "doc.json"), func() testDoc { return testDoc{} })
}

func TestStore_Update(t *testing.T) {
	t.Run("starts from init document", func(t *testing.T) {
		s := newTestStore(t)
		doc, err := s.Update(func(d testDoc) (testDoc, error) {
			d.Counter++
			return d, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Counter != 1 {
			t.Errorf("expected counter 1, got %d", doc.Counter)
		}
	})

	t.Run("persists across instances", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.json")
		init := func() testDoc { return testDoc{} }

		s1 := New(path, init)
		if _, err := s1.Update(func(d testDoc) (testDoc, error) {
			d.Items = append(d.Items, "a")
			return d, nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		s2 := New(path, init)
		doc, err := s2.Read()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(doc.Items) != 1 || doc.Items[0] != "a" {
			t.Errorf("expected persisted items [a], got %v", doc.Items)
		}
	})

	t.Run("fn error leaves file untouched and lock released", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Update(func(d testDoc) (testDoc, error) {
			d.Counter = 42
			return d, nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantErr := errors.New("boom")
		if _, err := s.Update(func(d testDoc) (testDoc, error) {
			return d, wantErr
		}); !errors.Is(err, wantErr) {
			t.Fatalf("expected propagated error, got %v", err)
		}

		// The store must not be wedged and must still hold the last good state.
		doc, err := s.Read()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Counter != 42 {
			t.Errorf("expected counter 42 after failed update, got %d", doc.Counter)
		}
	})

	t.Run("corrupt file reports error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		s := New(path, func() testDoc { return testDoc{} })
		if _, err := s.Read(); err == nil {
			t.Error("expected error for corrupt document")
		}
	})
}

// No lost updates: N concurrent read-modify-write cycles against the same
// store must all land in the final document.
func TestStore_ConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(func(d testDoc) (testDoc, error) {
				d.Counter++
				d.Items = append(d.Items, fmt.Sprintf("item-%d", i))
				return d, nil
			})
			if err != nil {
				t.Errorf("update %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := s.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Counter != n {
		t.Errorf("lost updates: expected counter %d, got %d", n, doc.Counter)
	}
	if len(doc.Items) != n {
		t.Errorf("lost updates: expected %d items, got %d", n, len(doc.Items))
	}
}

func TestSettingsStore_ToggleFavorite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	t.Run("toggle on then off", func(t *testing.T) {
		st := NewSettings(path, "/srv/media")
		on, err := st.ToggleFavorite("movies/film.mp4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !on {
			t.Error("expected path to become a favorite")
		}
		off, err := st.ToggleFavorite("movies/film.mp4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if off {
			t.Error("expected path to be removed from favorites")
		}
		s, err := st.Get()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(s.Favorites) != 0 {
			t.Errorf("expected no favorites, got %v", s.Favorites)
		}
	})

	t.Run("concurrent toggles for distinct paths all land", func(t *testing.T) {
		st := NewSettings(filepath.Join(t.TempDir(), "settings.json"), "/srv/media")
		const n = 40
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				if _, err := st.ToggleFavorite(fmt.Sprintf("path-%d", i)); err != nil {
					t.Errorf("toggle %d failed: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		s, err := st.Get()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(s.Favorites) != n {
			t.Errorf("lost toggle: expected %d favorites, got %d", n, len(s.Favorites))
		}
	})

	t.Run("roots do not cross-contaminate", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		a := NewSettings(path, "/srv/a")
		b := NewSettings(path, "/srv/b")
		if _, err := a.ToggleFavorite("x"); err != nil {
			t.Fatal(err)
		}
		sb, err := b.Get()
		if err != nil {
			t.Fatal(err)
		}
		if len(sb.Favorites) != 0 {
			t.Errorf("root b should be empty, got %v", sb.Favorites)
		}
	})
}

func TestStatsStore(t *testing.T) {
	st := NewStats(filepath.Join(t.TempDir(), "stats.json"), "/srv/media")

	for i := 0; i < 3; i++ {
		if err := st.RecordView("clip.mp4"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := st.RecordView("song.mp3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	views, err := st.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if views["clip.mp4"] != 3 {
		t.Errorf("expected 3 views for clip.mp4, got %d", views["clip.mp4"])
	}
	if views["song.mp3"] != 1 {
		t.Errorf("expected 1 view for song.mp3, got %d", views["song.mp3"])
	}
}
