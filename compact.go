package waldb

import (
	"context"
	"fmt"
	"os"
)

// Compact replays the live MemTable into a fresh successor WAL segment
// and retires the previous one, without requiring a restart. It performs
// the same on-disk log compaction Open already does over discovered
// segments, just against the database's current in-memory state instead
// of a set of files on disk.
//
// Compact is not a flush-to-SSTable operation: its output is always
// another WAL segment, replayable by the same recovery protocol, never a
// sorted string table.
//
// Concurrent calls to Compact are serialized by a weighted semaphore
// rather than rejected outright, so a caller that fires off Compact from
// a timer doesn't need its own coordination.
func (db *Database) Compact(ctx context.Context) error {
	if err := db.compactSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire compaction slot: %w", err)
	}
	defer db.compactSem.Release(1)

	successor, err := CreateSegment(db.dir, db.cfg.Clock)
	if err != nil {
		return fmt.Errorf("failed to create compaction successor segment: %w", err)
	}

	for _, entry := range db.mem.Entries() {
		if entry.Deleted {
			err = successor.AppendDelete(entry.Key, entry.Timestamp)
		} else {
			err = successor.AppendSet(entry.Key, entry.Value, entry.Timestamp)
		}
		if err != nil {
			_ = successor.Close()
			_ = os.Remove(successor.Path())
			return fmt.Errorf("failed to replay entry into compaction successor: %w", err)
		}
	}

	if err := successor.Flush(db.cfg.Fsync); err != nil {
		_ = successor.Close()
		_ = os.Remove(successor.Path())
		return err
	}

	oldPath := db.wal.Path()
	if err := db.wal.Close(); err != nil {
		return fmt.Errorf("failed to close previous WAL segment %q: %w", oldPath, err)
	}
	db.wal = successor

	if err := os.Remove(oldPath); err != nil {
		return fmt.Errorf("failed to remove previous WAL segment %q: %w", oldPath, err)
	}

	return nil
}
