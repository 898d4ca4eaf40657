package waldb

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

func openTestDB(t *testing.T, dir string, clock Clock) *Database {
	t.Helper()
	db, err := Open(dir, WithClock(clock), WithDirLock(false))
	if err != nil {
		t.Fatalf("Open(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// S1
func TestDatabase_setGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, newFixedClock(1, 1))

	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get on empty db = %v, want ErrKeyNotFound", err)
	}

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	entry, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Value) != "v" {
		t.Errorf("Value = %q, want %q", entry.Value, "v")
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get after delete = %v, want ErrKeyNotFound", err)
	}
}

func TestDatabase_openEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, newFixedClock(1, 1))

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("directory has %d segments after Open, want 1", len(paths))
	}
	if db.mem.Len() != 0 {
		t.Errorf("MemTable.Len() = %d, want 0", db.mem.Len())
	}
}

// S4: two segments, the second overwrites a key from the first; recovery
// must produce one surviving segment replaying all six records in file
// order, with the newer value winning.
func TestDatabase_recoveryMergesSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()

	writeSegment := func(start uint64, entries [][2]string) {
		clock := newFixedClock(start, 1)
		seg, err := CreateSegment(dir, clock)
		if err != nil {
			t.Fatal(err)
		}
		for i, e := range entries {
			if err := seg.AppendSet([]byte(e[0]), []byte(e[1]), start+uint64(i)); err != nil {
				t.Fatal(err)
			}
		}
		if err := seg.Flush(false); err != nil {
			t.Fatal(err)
		}
		if err := seg.Close(); err != nil {
			t.Fatal(err)
		}
	}

	writeSegment(0, [][2]string{
		{"Apple", "Apple Smoothie"},
		{"Lime", "Lime Smoothie"},
		{"Orange", "Orange Smoothie"},
	})
	writeSegment(3, [][2]string{
		{"Strawberry", "Strawberry Smoothie"},
		{"Blueberry", "Blueberry Smoothie"},
		{"Orange", "Orange Milkshake"},
	})

	db := openTestDB(t, dir, newFixedClock(1000, 1))

	entry, err := db.Get([]byte("Orange"))
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Value) != "Orange Milkshake" {
		t.Errorf("Orange = %q, want %q", entry.Value, "Orange Milkshake")
	}
	if entry.Timestamp != 5 {
		t.Errorf("Orange timestamp = %d, want 5", entry.Timestamp)
	}

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("directory has %d segments after recovery, want 1", len(paths))
	}

	it, err := OpenSegmentIterator(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	wantOrder := []string{"Apple", "Lime", "Orange", "Strawberry", "Blueberry", "Orange"}
	for _, key := range wantOrder {
		rec, err := it.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if string(rec.Key) != key {
			t.Errorf("replayed key = %q, want %q", rec.Key, key)
		}
	}
}

// S5: a set in one segment, a delete for the same key in a later segment;
// recovery leaves the key absent and the surviving segment replays
// set-then-delete.
func TestDatabase_recoveryAppliesDeleteAcrossSegments(t *testing.T) {
	dir := t.TempDir()

	seg1, err := CreateSegment(dir, newFixedClock(0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := seg1.AppendSet([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := seg1.Flush(false); err != nil {
		t.Fatal(err)
	}
	if err := seg1.Close(); err != nil {
		t.Fatal(err)
	}

	seg2, err := CreateSegment(dir, newFixedClock(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := seg2.AppendDelete([]byte("k"), 1); err != nil {
		t.Fatal(err)
	}
	if err := seg2.Flush(false); err != nil {
		t.Fatal(err)
	}
	if err := seg2.Close(); err != nil {
		t.Fatal(err)
	}

	db := openTestDB(t, dir, newFixedClock(1000, 1))

	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(k) = %v, want ErrKeyNotFound", err)
	}

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	it, err := OpenSegmentIterator(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil || rec.Deleted {
		t.Fatalf("first replayed record = %+v, err=%v, want a set", rec, err)
	}
	rec, err = it.Next()
	if err != nil || !rec.Deleted {
		t.Fatalf("second replayed record = %+v, err=%v, want a delete", rec, err)
	}
}

// S6: a truncated segment tail is tolerated; recovery produces an empty
// MemTable and a fresh single segment.
func TestDatabase_recoveryTruncatedSegment(t *testing.T) {
	dir := t.TempDir()

	seg, err := CreateSegment(dir, newFixedClock(0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := seg.AppendSet([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := seg.Flush(false); err != nil {
		t.Fatal(err)
	}
	if err := seg.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(seg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(seg.Path(), info.Size()-1); err != nil {
		t.Fatal(err)
	}

	db := openTestDB(t, dir, newFixedClock(1000, 1))

	if db.mem.Len() != 0 {
		t.Errorf("MemTable.Len() = %d, want 0", db.mem.Len())
	}

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("directory has %d segments, want 1", len(paths))
	}
	info, err = os.Stat(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("surviving segment size = %d, want 0", info.Size())
	}
}

// Recovery idempotence: open, close, open again yields the same MemTable
// contents and exactly one surviving segment after the second open.
func TestDatabase_recoveryIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir, WithClock(newFixedClock(1, 1)), WithDirLock(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := db1.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := db1.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir, WithClock(newFixedClock(1000, 1)), WithDirLock(false))
	if err != nil {
		t.Fatal(err)
	}
	entry, err := db2.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Value) != "v1" {
		t.Errorf("Value = %q, want %q", entry.Value, "v1")
	}
	if err := db2.Close(); err != nil {
		t.Fatal(err)
	}

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("directory has %d segments after second open, want 1", len(paths))
	}
}

func TestDatabase_dirLockRejectsSecondInstance(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir, WithClock(newFixedClock(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	defer db1.Close()

	_, err = Open(dir, WithClock(newFixedClock(1000, 1)))
	if !errors.Is(err, ErrDirectoryLocked) {
		t.Errorf("second Open() = %v, want ErrDirectoryLocked", err)
	}
}

func TestDatabase_setRejectsEmptyKey(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, newFixedClock(1, 1))

	if err := db.Set(nil, []byte("v")); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Set with empty key = %v, want ErrEmptyKey", err)
	}
	if err := db.Delete([]byte{}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Delete with empty key = %v, want ErrEmptyKey", err)
	}
}

func TestDatabase_failedAppendLeavesMemTableUntouched(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, newFixedClock(1, 1))

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	// Force the next Flush to fail by closing the underlying file out
	// from under the Segment, simulating an I/O failure.
	if err := db.wal.f.Close(); err != nil {
		t.Fatal(err)
	}

	err := db.Set([]byte("k"), []byte("v2"))
	if err == nil {
		t.Fatal("expected Set to fail after the WAL file was closed")
	}

	entry, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Value) != "v" {
		t.Errorf("MemTable was mutated despite the failed append: Value = %q, want %q", entry.Value, "v")
	}
}

func TestDatabase_compactProducesReplayableSegment(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, newFixedClock(1, 1))

	if err := db.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}

	if err := db.Compact(context.Background()); err != nil {
		t.Fatal(err)
	}

	paths, err := discoverSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("directory has %d segments after Compact, want 1", len(paths))
	}

	it, err := OpenSegmentIterator(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var gotKeys [][]byte
	for {
		rec, err := it.Next()
		if err != nil {
			break
		}
		gotKeys = append(gotKeys, rec.Key)
	}
	if len(gotKeys) != 2 {
		t.Fatalf("compacted segment has %d records, want 2 (one per live MemTable entry)", len(gotKeys))
	}

	entry, err := db.Get([]byte("b"))
	if err != nil || !bytes.Equal(entry.Value, []byte("2")) {
		t.Errorf("Get(b) after Compact = %+v, %v", entry, err)
	}
	if _, err := db.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(a) after Compact = %v, want ErrKeyNotFound", err)
	}
}

