package waldb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Database is the coordinator: it exclusively owns the live MemTable and
// the live WAL segment, and keeps them in step on every mutation.
type Database struct {
	dir string
	cfg Config

	mem *MemTable
	wal *Segment

	lock *flock.Flock

	compactSem *semaphore.Weighted
}

// Open recovers a database directory: it replays every *.wal segment
// found in dir (sorted by filename, which is the segment's creation
// microsecond) into a fresh MemTable, writes a matching compacted
// successor segment, and removes the old segments. If dir contains no
// segments, Open starts with an empty MemTable and a single fresh one.
func Open(dir string, opts ...ConfigOption) (*Database, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	db := &Database{
		dir:        dir,
		cfg:        cfg,
		compactSem: semaphore.NewWeighted(1),
	}

	if cfg.DirLock {
		lock := flock.New(dirLockPath(dir))
		held, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire directory lock in %q: %w", dir, err)
		}
		if !held {
			return nil, ErrDirectoryLocked
		}
		db.lock = lock
	}

	recoveryID := uuid.New()
	cfg.Logger.Printf("waldb: recovery %s: starting in %q", recoveryID, dir)

	oldSegments, err := discoverSegments(dir)
	if err != nil {
		db.releaseLock()
		return nil, err
	}

	mem := &MemTable{}
	successor, err := CreateSegment(dir, cfg.Clock)
	if err != nil {
		db.releaseLock()
		return nil, fmt.Errorf("failed to create successor segment: %w", err)
	}

	for _, path := range oldSegments {
		n, truncated, err := replaySegment(path, mem, successor)
		if err != nil {
			_ = successor.Close()
			db.releaseLock()
			return nil, err
		}
		if truncated {
			cfg.Logger.Printf("waldb: recovery %s: replayed %d records from %q, discarding a corrupt or truncated tail", recoveryID, n, path)
		} else {
			cfg.Logger.Printf("waldb: recovery %s: replayed %d records from %q", recoveryID, n, path)
		}
	}

	if err := successor.Flush(cfg.Fsync); err != nil {
		_ = successor.Close()
		db.releaseLock()
		return nil, fmt.Errorf("failed to flush successor segment: %w", err)
	}

	for _, path := range oldSegments {
		if err := os.Remove(path); err != nil {
			_ = successor.Close()
			db.releaseLock()
			return nil, fmt.Errorf("failed to remove old segment %q: %w", path, err)
		}
	}

	cfg.Logger.Printf("waldb: recovery %s: done, %d live entries in %q", recoveryID, mem.Len(), successor.Path())

	db.mem = mem
	db.wal = successor
	return db, nil
}

// replaySegment drains every record from the segment at path, in physical
// order, applying each to mem and re-appending it to successor. A
// truncated tail stops consumption of this segment only; it is not
// surfaced as an error (see the record codec's decoder contract), but is
// reported back via the truncated return value so the caller can log it
// as a distinct recovery event rather than a clean end-of-segment.
func replaySegment(path string, mem *MemTable, successor *Segment) (n int, truncated bool, err error) {
	it, err := OpenSegmentIterator(path)
	if err != nil {
		return 0, false, err
	}
	defer it.Close()

	for {
		rec, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ErrCorruptRecord) {
				truncated = true
				break
			}
			return n, truncated, err
		}

		if rec.Deleted {
			mem.Delete(rec.Key, rec.Timestamp)
			if err := successor.AppendDelete(rec.Key, rec.Timestamp); err != nil {
				return n, truncated, err
			}
		} else {
			mem.Set(rec.Key, rec.Value, rec.Timestamp)
			if err := successor.AppendSet(rec.Key, rec.Value, rec.Timestamp); err != nil {
				return n, truncated, err
			}
		}
		n++
	}

	return n, truncated, nil
}

// Get retrieves key from the live MemTable. It returns ErrKeyNotFound if
// key is absent or was last tombstoned.
func (db *Database) Get(key []byte) (Entry, error) {
	entry, ok := db.mem.Get(key)
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return entry, nil
}

// Set durably appends a set record to the live WAL and, only on success,
// applies it to the MemTable.
func (db *Database) Set(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	ts := db.cfg.Clock.NowMicro()

	if err := db.wal.AppendSet(key, value, ts); err != nil {
		return err
	}
	if err := db.wal.Flush(db.cfg.Fsync); err != nil {
		return err
	}

	db.mem.Set(key, value, ts)
	return nil
}

// Delete durably appends a delete record to the live WAL and, only on
// success, applies it to the MemTable.
func (db *Database) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	ts := db.cfg.Clock.NowMicro()

	if err := db.wal.AppendDelete(key, ts); err != nil {
		return err
	}
	if err := db.wal.Flush(db.cfg.Fsync); err != nil {
		return err
	}

	db.mem.Delete(key, ts)
	return nil
}

// Close releases the live WAL's file handle and the directory lock, if
// held. The MemTable is discarded; it is never persisted beyond the WAL.
func (db *Database) Close() error {
	err := db.wal.Close()
	db.releaseLock()
	return err
}

func (db *Database) releaseLock() {
	if db.lock != nil {
		_ = db.lock.Unlock()
	}
}

func dirLockPath(dir string) string {
	return dir + string(os.PathSeparator) + ".waldb.lock"
}
