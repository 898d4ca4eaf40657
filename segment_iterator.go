package waldb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// SegmentIterator reads records from an existing segment file in physical
// (append) order. It owns a read-only file handle, entirely separate from
// any Segment writer over the same path, so a segment can be written and,
// independently, iterated through disjoint handles.
type SegmentIterator struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

// OpenSegmentIterator opens path read-only for iteration.
func OpenSegmentIterator(path string) (*SegmentIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %q for iteration: %w", path, err)
	}
	return &SegmentIterator{
		path: path,
		f:    f,
		r:    bufio.NewReader(f),
	}, nil
}

// Next returns the next record in the segment.
//
// On clean end-of-file it returns (nil, io.EOF). On a truncated record it
// returns (nil, ErrCorruptRecord). Both signal "no more records"; it is
// the coordinator's job (during recovery) to treat them identically as
// "segment exhausted" rather than failing startup.
func (it *SegmentIterator) Next() (*Record, error) {
	rec, err := DecodeRecord(it.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrCorruptRecord
	}
	return rec, nil
}

// Close releases the iterator's file handle.
func (it *SegmentIterator) Close() error {
	return it.f.Close()
}
