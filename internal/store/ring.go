package store

// historyRing is a fixed-capacity buffer of undo entries. Pushing past
// capacity silently drops the oldest entry; Pop removes the newest.
type historyRing struct {
	entries []*HistoryEntry
	cap     int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 10
	}
	return &historyRing{cap: capacity}
}

func (h *historyRing) Push(e *HistoryEntry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > h.cap {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = nil
		h.entries = h.entries[:len(h.entries)-1]
	}
}

// Pop removes and returns the most recent entry, or nil when empty.
func (h *historyRing) Pop() *HistoryEntry {
	if len(h.entries) == 0 {
		return nil
	}
	e := h.entries[len(h.entries)-1]
	h.entries[len(h.entries)-1] = nil
	h.entries = h.entries[:len(h.entries)-1]
	return e
}

func (h *historyRing) Len() int { return len(h.entries) }

// Snapshot returns the entries oldest-first.
func (h *historyRing) Snapshot() []*HistoryEntry {
	out := make([]*HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Replace swaps the ring contents, trimming oldest entries past capacity.
// Used when restoring from a transaction snapshot or a loaded file.
func (h *historyRing) Replace(entries []*HistoryEntry) {
	if len(entries) > h.cap {
		entries = entries[len(entries)-h.cap:]
	}
	h.entries = append([]*HistoryEntry(nil), entries...)
}
