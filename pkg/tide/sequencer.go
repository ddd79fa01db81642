package tide

// sequencer releases results at the accumulation boundary. Unordered it
// passes results straight through. Ordered it holds each result until
// every earlier index has resolved, either with a value or as dropped.
type sequencer struct {
	ordered bool
	next    int
	pending map[int]slot
	limit   int // indices at or above limit are never released; -1 for none
}

type slot struct {
	value any
	keep  bool
}

func newSequencer(ordered bool) *sequencer {
	return &sequencer{
		ordered: ordered,
		pending: make(map[int]slot),
		limit:   -1,
	}
}

// resolve records the outcome of index and returns the values now ready
// to release, in order.
func (s *sequencer) resolve(index int, value any, keep bool) []any {
	if s.limit >= 0 && index >= s.limit {
		return nil
	}
	if !s.ordered {
		if keep {
			return []any{value}
		}
		return nil
	}

	s.pending[index] = slot{value: value, keep: keep}
	var out []any
	for {
		if s.limit >= 0 && s.next >= s.limit {
			break
		}
		sl, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		s.next++
		if sl.keep {
			out = append(out, sl.value)
		}
	}
	return out
}

// truncate stops release at index; held results at or past it are
// discarded.
func (s *sequencer) truncate(index int) {
	if s.limit >= 0 && s.limit <= index {
		return
	}
	s.limit = index
	for i := range s.pending {
		if i >= index {
			delete(s.pending, i)
		}
	}
}
