package internal

// dedupWindow remembers the last size message keys of a room together with the
// sequence number each was accepted under. Oldest keys fall out first.
type dedupWindow struct {
	keys  []string
	index map[string]uint64
	next  int
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		size = 1
	}
	return &dedupWindow{
		keys:  make([]string, size),
		index: make(map[string]uint64, size),
	}
}

func (w *dedupWindow) seen(key string) (uint64, bool) {
	seq, ok := w.index[key]
	return seq, ok
}

func (w *dedupWindow) add(key string, seq uint64) {
	if evicted := w.keys[w.next]; evicted != "" {
		delete(w.index, evicted)
	}
	w.keys[w.next] = key
	w.index[key] = seq
	w.next = (w.next + 1) % len(w.keys)
}

func (w *dedupWindow) len() int {
	return len(w.index)
}
