package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// On disk a journal is a sequence of records, each a 4-byte big-endian
// length followed by that many bytes of msgpack.
const (
	sizeLen = 4
	// MaxRecordSize bounds a single encoded record.
	MaxRecordSize = 8 << 20
)

// CorruptError reports a journal that cannot be read past Offset.
type CorruptError struct {
	// Offset is the byte offset of the record that failed.
	Offset int64
	// Truncated is set when the stream ended inside a record. A journal
	// whose writer died mid-flush ends this way.
	Truncated bool
	Reason    string
	Err       error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("journal corrupt at offset %d: %s", e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

// IsTruncated reports whether err is a CorruptError for a stream that
// ended inside a record.
func IsTruncated(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce) && ce.Truncated
}

// frameReader splits a stream into record payloads and tracks the byte
// offset so corruption can be located.
type frameReader struct {
	r      io.Reader
	offset int64
	size   [sizeLen]byte
	buf    []byte
}

// next returns the next payload. The slice is only valid until the next
// call. A clean end of stream yields io.EOF.
func (fr *frameReader) next() ([]byte, error) {
	start := fr.offset
	n, err := io.ReadFull(fr.r, fr.size[:])
	fr.offset += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case err != nil:
		return nil, &CorruptError{Offset: start, Truncated: true, Reason: "short size prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(fr.size[:])
	if size > MaxRecordSize {
		return nil, &CorruptError{Offset: start, Reason: fmt.Sprintf("record of %d bytes exceeds %d", size, MaxRecordSize)}
	}
	if cap(fr.buf) < int(size) {
		fr.buf = make([]byte, size)
	}
	fr.buf = fr.buf[:size]
	n, err = io.ReadFull(fr.r, fr.buf)
	fr.offset += int64(n)
	if err != nil {
		return nil, &CorruptError{Offset: start, Truncated: true, Reason: "short record", Err: err}
	}
	return fr.buf, nil
}

// appendFrame appends the framed msgpack encoding of rec to dst.
func appendFrame(dst []byte, rec *Record) ([]byte, error) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return dst, fmt.Errorf("encode journal record %d: %w", rec.Seq, err)
	}
	if len(payload) > MaxRecordSize {
		return dst, fmt.Errorf("journal record %d is %d bytes, limit %d", rec.Seq, len(payload), MaxRecordSize)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

func decodeRecord(payload []byte, offset int64) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &CorruptError{Offset: offset, Reason: "undecodable record", Err: err}
	}
	return &rec, nil
}
