package store

// ViewStats maps relative paths to view counts.
type ViewStats map[string]uint64

// StatsStore scopes the shared view-statistics document to one sandbox root.
type StatsStore struct {
	store *Store[map[string]ViewStats]
	root  string
}

// NewStats opens the view-statistics document at path, scoped to the given
// sandbox-root identifier.
func NewStats(path, root string) *StatsStore {
	return &StatsStore{
		store: New(path, func() map[string]ViewStats { return map[string]ViewStats{} }),
		root:  root,
	}
}

// RecordView increments the view counter for rel.
func (st *StatsStore) RecordView(rel string) error {
	_, err := st.store.Update(func(doc map[string]ViewStats) (map[string]ViewStats, error) {
		views := doc[st.root]
		if views == nil {
			views = ViewStats{}
		}
		views[rel]++
		doc[st.root] = views
		return doc, nil
	})
	return err
}

// Snapshot returns a copy of this root's view counts.
func (st *StatsStore) Snapshot() (ViewStats, error) {
	doc, err := st.store.Read()
	if err != nil {
		return nil, err
	}
	out := ViewStats{}
	for k, v := range doc[st.root] {
		out[k] = v
	}
	return out, nil
}
