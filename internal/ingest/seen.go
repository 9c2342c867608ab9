package ingest

const (
	seenLimit  = 5000
	seenRetain = 2500
)

// seenSet remembers article ids in insertion order. Once it holds more than
// limit ids it drops all but the newest retain.
type seenSet struct {
	ids    map[string]struct{}
	order  []string
	limit  int
	retain int
}

func newSeenSet(limit, retain int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}), limit: limit, retain: retain}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Trim enforces the size bound.
func (s *seenSet) Trim() {
	if len(s.order) <= s.limit {
		return
	}
	drop := len(s.order) - s.retain
	for _, id := range s.order[:drop] {
		delete(s.ids, id)
	}
	s.order = append([]string(nil), s.order[drop:]...)
}

func (s *seenSet) Len() int {
	return len(s.order)
}
