package record

// Rejected is a top-level document entry whose value was not an object.
type Rejected struct {
	ID   string
	Kind Kind
}

// Store is an ordered id -> Record mapping loaded from one document.
//
// A Store is built once by a loader and read-only afterwards. Ids keep the
// order of their first appearance in the document; a repeated id replaces the
// earlier record in place.
type Store struct {
	name     string
	ids      []string
	recs     map[string]Record
	rejected []Rejected
}

// NewStore returns an empty store labelled with the source document name.
func NewStore(name string) *Store {
	return &Store{name: name, recs: map[string]Record{}}
}

// Put adds or replaces a record. Loaders call Put while building the store.
func (s *Store) Put(id string, r Record) {
	if _, ok := s.recs[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.recs[id] = r
}

// Reject remembers an entry that could not be loaded as a record.
func (s *Store) Reject(id string, k Kind) {
	s.rejected = append(s.rejected, Rejected{ID: id, Kind: k})
}

func (s *Store) Name() string { return s.name }
func (s *Store) Len() int     { return len(s.ids) }

// Get returns the stored record. Callers must not mutate it.
func (s *Store) Get(id string) (Record, bool) {
	r, ok := s.recs[id]
	return r, ok
}

// IDs returns record ids in document order.
func (s *Store) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Rejected returns entries that were not objects, in document order.
func (s *Store) Rejected() []Rejected {
	return append([]Rejected(nil), s.rejected...)
}
