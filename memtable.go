package waldb

import "sort"

// entryOverhead is the fixed per-entry accounting cost: 16 bytes for the
// timestamp field, 1 byte for the tombstone flag.
const entryOverhead = 16 + 1

// Entry is a MemTable row: the most recent operation applied to Key.
// Value is nil and Deleted is true for a tombstone.
type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
	Deleted   bool
}

// MemTable is an in-memory sorted table holding the most recent operation
// per key. It is not safe for concurrent use; the coordinator is its sole
// owner and holds no lock around it.
type MemTable struct {
	entries []Entry
	size    int
}

// findIndex returns the position of key in entries (sorted ascending by
// key) via sort.Search, and whether it was found. If not found, the
// returned index is where key should be inserted to keep entries sorted.
func findIndex(entries []Entry, key []byte) (idx int, found bool) {
	idx = sort.Search(len(entries), func(i int) bool {
		return string(entries[i].Key) >= string(key)
	})
	found = idx < len(entries) && string(entries[idx].Key) == string(key)
	return idx, found
}

// Set records a live value for key, overwriting any previous entry.
func (m *MemTable) Set(key, value []byte, ts uint64) {
	idx, found := findIndex(m.entries, key)

	entry := Entry{
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Timestamp: ts,
	}

	if found {
		old := m.entries[idx]
		m.size += len(value) - oldValueLen(old)
		m.entries[idx] = entry
		return
	}

	m.size += len(key) + len(value) + entryOverhead
	m.insertAt(idx, entry)
}

// Delete records a tombstone for key, overwriting any previous entry.
func (m *MemTable) Delete(key []byte, ts uint64) {
	idx, found := findIndex(m.entries, key)

	entry := Entry{
		Key:       append([]byte(nil), key...),
		Timestamp: ts,
		Deleted:   true,
	}

	if found {
		old := m.entries[idx]
		m.size -= oldValueLen(old)
		m.entries[idx] = entry
		return
	}

	m.size += len(key) + entryOverhead
	m.insertAt(idx, entry)
}

// oldValueLen returns the byte-size contribution of an existing entry's
// value: 0 for a tombstone, len(Value) for a live entry.
func oldValueLen(e Entry) int {
	if e.Deleted {
		return 0
	}
	return len(e.Value)
}

func (m *MemTable) insertAt(idx int, entry Entry) {
	m.entries = append(m.entries, Entry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = entry
}

// Get returns the live entry for key. The second return value is false if
// key is absent or its last recorded operation was a delete.
func (m *MemTable) Get(key []byte) (Entry, bool) {
	idx, found := findIndex(m.entries, key)
	if !found || m.entries[idx].Deleted {
		return Entry{}, false
	}
	return m.entries[idx], true
}

// Len returns the number of entries, including tombstones.
func (m *MemTable) Len() int {
	return len(m.entries)
}

// Size returns the running byte-size accounting: the approximate on-disk
// cost of every entry, live or tombstoned.
func (m *MemTable) Size() int {
	return m.size
}

// Entries returns a copy of the entry slice in ascending key order,
// including tombstones. The Key and Value byte slices are shared with the
// MemTable, not copied. Intended for an eventual flush-to-SSTable pipeline
// (out of scope for this core), and for tests.
func (m *MemTable) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
