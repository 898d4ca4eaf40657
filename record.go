package waldb

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	lengthSize    = 8  // u64 key_len / value_len
	flagSize      = 1  // u8 deleted
	timestampSize = 16 // u128 timestamp, stored as two little-endian u64 halves
)

const (
	flagSet    byte = 0
	flagDelete byte = 1
)

// Record is a single WAL entry: either a set (Value present, Deleted
// false) or a delete/tombstone (Value nil, Deleted true).
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
	Deleted   bool
}

// EncodeSet writes a set record per the WAL wire format to w.
func EncodeSet(w io.Writer, key, value []byte, ts uint64) error {
	ew := &errWriter{Writer: w}
	writeUint64(ew, uint64(len(key)))
	ew.Write([]byte{flagSet})
	writeUint64(ew, uint64(len(value)))
	ew.Write(key)
	ew.Write(value)
	writeTimestamp(ew, ts)
	return ew.err
}

// EncodeDelete writes a delete (tombstone) record per the WAL wire format
// to w.
func EncodeDelete(w io.Writer, key []byte, ts uint64) error {
	ew := &errWriter{Writer: w}
	writeUint64(ew, uint64(len(key)))
	ew.Write([]byte{flagDelete})
	ew.Write(key)
	writeTimestamp(ew, ts)
	return ew.err
}

// DecodeRecord reads the next record from r.
//
// On a clean record boundary with zero bytes available, it returns
// (nil, io.EOF). On any short read inside a record (truncation), it
// returns (nil, ErrCorruptRecord). Neither case is retried: callers that
// want to keep reading after a clean EOF (there is none, by definition)
// or that want to treat a truncated tail as end-of-segment (the
// coordinator, during recovery) must decide that at the call site.
func DecodeRecord(r io.Reader) (*Record, error) {
	var lenBuf [lengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrCorruptRecord
	}
	keyLen := binary.LittleEndian.Uint64(lenBuf[:])

	var flagBuf [flagSize]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return nil, ErrCorruptRecord
	}
	deleted := flagBuf[0] != flagSet

	rec := &Record{Deleted: deleted}

	if !deleted {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, ErrCorruptRecord
		}
		valueLen := binary.LittleEndian.Uint64(lenBuf[:])

		rec.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, rec.Key); err != nil {
			return nil, ErrCorruptRecord
		}
		rec.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, rec.Value); err != nil {
			return nil, ErrCorruptRecord
		}
	} else {
		rec.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, rec.Key); err != nil {
			return nil, ErrCorruptRecord
		}
	}

	ts, err := readTimestamp(r)
	if err != nil {
		return nil, err
	}
	rec.Timestamp = ts

	return rec, nil
}

func writeUint64(w io.Writer, v uint64) {
	var buf [lengthSize]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

// writeTimestamp zero-extends ts to a full 128-bit little-endian field: the
// low 8 bytes hold ts, the high 8 bytes are always zero.
func writeTimestamp(w io.Writer, ts uint64) {
	var buf [timestampSize]byte
	binary.LittleEndian.PutUint64(buf[:8], ts)
	w.Write(buf[:])
}

// readTimestamp reads a 128-bit little-endian timestamp and narrows it to
// uint64. A nonzero high half can't be represented and is treated the same
// as a truncated read: ErrCorruptRecord.
func readTimestamp(r io.Reader) (uint64, error) {
	var buf [timestampSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrCorruptRecord
	}
	hi := binary.LittleEndian.Uint64(buf[8:])
	if hi != 0 {
		return 0, ErrCorruptRecord
	}
	return binary.LittleEndian.Uint64(buf[:8]), nil
}
