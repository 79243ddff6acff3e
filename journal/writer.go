package journal

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/pithecene-io/propwatch/iox"
)

// ErrClosed is returned when writing to a closed journal.
var ErrClosed = errors.New("journal closed")

// Writer appends records to a stream. It assigns sequence numbers in
// write order and is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	buf    []byte
	seq    int64
	closed bool
}

// NewWriter wraps w. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer) *Writer {
	jw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// Create opens path for writing, truncating an existing journal.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// WriteRecords appends records in order and flushes. Each record gets the
// next sequence number.
func (w *Writer) WriteRecords(ctx context.Context, records []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	buf := w.buf[:0]
	seq := w.seq
	for _, rec := range records {
		seq++
		rec.Seq = seq
		var err error
		if buf, err = appendFrame(buf, rec); err != nil {
			return err
		}
	}
	w.buf = buf
	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	w.seq = seq
	return w.w.Flush()
}

// Close flushes and closes the underlying stream. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	err := w.w.Flush()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// Reader reads records back from a stream.
type Reader struct {
	fr frameReader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{fr: frameReader{r: bufio.NewReader(r)}}
}

// Next returns the next record, or io.EOF at the end of the stream.
// Damage is reported as a *CorruptError.
func (r *Reader) Next() (*Record, error) {
	start := r.fr.offset
	payload, err := r.fr.next()
	if err != nil {
		return nil, err
	}
	return decodeRecord(payload, start)
}

// ReadAll reads every record of a stream.
func ReadAll(r io.Reader) ([]*Record, error) {
	jr := NewReader(r)
	var out []*Record
	for {
		rec, err := jr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ReadFile reads every record of a journal file.
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)
	return ReadAll(f)
}
