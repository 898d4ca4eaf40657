package waldb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
)

const segmentExt = ".wal"

// Segment is an append-only WAL file. It exclusively owns the file handle
// it was created with; writes go through a buffered writer and
// only become durable after Flush.
type Segment struct {
	path      string
	timestamp uint64
	f         *os.File
	w         *bufio.Writer
}

// segmentFilename formats a segment's filename from its creation
// timestamp: <microsecond-timestamp>.wal. Names sort lexicographically in
// creation order for equal-width decimal numbers; unequal-width decimal
// timestamps diverge from numeric order (10 sorts before 2).
func segmentFilename(ts uint64) string {
	return strconv.FormatUint(ts, 10) + segmentExt
}

// CreateSegment creates a new segment file in dir, named from the current
// time reported by clock.
func CreateSegment(dir string, clock Clock) (*Segment, error) {
	ts := clock.NowMicro()
	path := filepath.Join(dir, segmentFilename(ts))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %q: %w", path, err)
	}

	return &Segment{
		path:      path,
		timestamp: ts,
		f:         f,
		w:         bufio.NewWriter(f),
	}, nil
}

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// Timestamp returns the segment's creation timestamp: the clock value its
// filename was formed from.
func (s *Segment) Timestamp() uint64 { return s.timestamp }

// AppendSet serializes a set record into the segment's write buffer. The
// bytes are durable only after a successful Flush.
func (s *Segment) AppendSet(key, value []byte, ts uint64) error {
	if err := EncodeSet(s.w, key, value, ts); err != nil {
		return fmt.Errorf("failed to append set record to %q: %w", s.path, err)
	}
	return nil
}

// AppendDelete serializes a delete (tombstone) record into the segment's
// write buffer. The bytes are durable only after a successful Flush.
func (s *Segment) AppendDelete(key []byte, ts uint64) error {
	if err := EncodeDelete(s.w, key, ts); err != nil {
		return fmt.Errorf("failed to append delete record to %q: %w", s.path, err)
	}
	return nil
}

// Flush flushes the buffered writer to the operating system. If fsync is
// true, it additionally calls (*os.File).Sync. The WAL's durability
// contract only requires the flush to succeed.
func (s *Segment) Flush(fsync bool) error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush segment %q: %w", s.path, err)
	}
	if fsync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("failed to fsync segment %q: %w", s.path, err)
		}
	}
	return nil
}

// Close releases the segment's file handle.
func (s *Segment) Close() error {
	return s.f.Close()
}

// discoverSegments returns the paths of every *.wal file in dir, sorted
// lexicographically (which, for equal-width decimal timestamps, matches
// creation order).
//
// Candidate names are confirmed to still exist with a concurrent
// os.Stat fan-out before sorting, since a segment can be removed by a
// racing Compact between the directory scan and replay; a name that
// disappeared in that window is silently dropped rather than failing the
// whole scan.
func discoverSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %q: %w", dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != segmentExt {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}

	present := make([]bool, len(candidates))
	g, _ := errgroup.WithContext(context.Background())
	for i, path := range candidates {
		i, path := i, path
		g.Go(func() error {
			if _, err := os.Stat(path); err == nil {
				present[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	paths := candidates[:0]
	for i, path := range candidates {
		if present[i] {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)
	return paths, nil
}
