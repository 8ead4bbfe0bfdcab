package store

import "sort"

// Settings holds per-root library preferences.
type Settings struct {
	Favorites  []string `json:"favorites,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	ShowHidden bool     `json:"showHidden,omitempty"`
}

// SettingsStore scopes the shared settings document to one sandbox root.
type SettingsStore struct {
	store *Store[map[string]Settings]
	root  string
}

// NewSettings opens the settings document at path, scoped to the given
// sandbox-root identifier.
func NewSettings(path, root string) *SettingsStore {
	return &SettingsStore{
		store: New(path, func() map[string]Settings { return map[string]Settings{} }),
		root:  root,
	}
}

// Get returns the settings for this root, zero-valued when unset.
func (st *SettingsStore) Get() (Settings, error) {
	doc, err := st.store.Read()
	if err != nil {
		return Settings{}, err
	}
	return doc[st.root], nil
}

// Update applies fn to this root's settings inside the critical section.
func (st *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	doc, err := st.store.Update(func(doc map[string]Settings) (map[string]Settings, error) {
		s := doc[st.root]
		fn(&s)
		doc[st.root] = s
		return doc, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return doc[st.root], nil
}

// ToggleFavorite adds rel to the favorites list, or removes it when already
// present. Returns whether the path is a favorite after the toggle.
func (st *SettingsStore) ToggleFavorite(rel string) (bool, error) {
	var nowFavorite bool
	_, err := st.Update(func(s *Settings) {
		for i, f := range s.Favorites {
			if f == rel {
				s.Favorites = append(s.Favorites[:i], s.Favorites[i+1:]...)
				nowFavorite = false
				return
			}
		}
		s.Favorites = append(s.Favorites, rel)
		sort.Strings(s.Favorites)
		nowFavorite = true
	})
	return nowFavorite, err
}
