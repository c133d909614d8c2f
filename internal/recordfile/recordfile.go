// Package recordfile reads and writes the versioned flat files the terminal
// keeps its card records and batch history in. A file is a version tag
// followed by fields in a fixed order; the reader of each file decides which
// fields a version carries.
package recordfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// maxString guards against reading a corrupt length prefix.
const maxString = 1 << 16

var (
	ErrVersion = errors.New("unsupported record file version")
	ErrCorrupt = errors.New("corrupt record file")
)

// Writer encodes fields. The first error sticks and is reported by Flush.
type Writer struct {
	w   *bufio.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) Int(v int64) {
	if w.err != nil {
		return
	}
	n := binary.PutVarint(w.buf[:], v)
	_, w.err = w.w.Write(w.buf[:n])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Int(1)
		return
	}
	w.Int(0)
}

func (w *Writer) Text(s string) {
	w.Int(int64(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(s)
}

func (w *Writer) Lines(list []string) {
	w.Int(int64(len(list)))
	for _, s := range list {
		w.Text(s)
	}
}

// Time stores t with nanosecond precision; the zero time round-trips.
func (w *Writer) Time(t time.Time) {
	if t.IsZero() {
		w.Int(0)
		return
	}
	w.Int(t.UnixNano())
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Reader decodes fields written by Writer. After the first error every read
// returns a zero value and Err reports the failure.
type Reader struct {
	r   *bufio.Reader
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Int() int64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		r.err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		return 0
	}
	return v
}

func (r *Reader) Bool() bool {
	return r.Int() != 0
}

func (r *Reader) Text() string {
	n := r.Int()
	if r.err != nil {
		return ""
	}
	if n < 0 || n > maxString {
		r.err = fmt.Errorf("%w: string length %d", ErrCorrupt, n)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		return ""
	}
	return string(b)
}

func (r *Reader) Lines() []string {
	n := r.Int()
	if r.err != nil || n <= 0 {
		return nil
	}
	if n > maxString {
		r.err = fmt.Errorf("%w: list length %d", ErrCorrupt, n)
		return nil
	}
	out := make([]string, 0, n)
	for i := int64(0); i < n && r.err == nil; i++ {
		out = append(out, r.Text())
	}
	return out
}

func (r *Reader) Time() time.Time {
	v := r.Int()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// Save writes a file atomically: the body goes to a temporary sibling that is
// renamed over path once complete.
func Save(path string, version int, body func(w *Writer)) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	w := NewWriter(f)
	w.Int(int64(version))
	body(w)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}

// Load opens path, checks its version tag lies in [minVersion, maxVersion]
// and hands the reader to body. A version outside the range yields ErrVersion
// without calling body.
func Load(path string, minVersion, maxVersion int, body func(r *Reader, version int)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := NewReader(f)
	version := int(r.Int())
	if r.err != nil {
		return fmt.Errorf("reading version of %s: %w", path, r.err)
	}
	if version < minVersion || version > maxVersion {
		return fmt.Errorf("%s version %d: %w", path, version, ErrVersion)
	}
	body(r, version)
	if r.err != nil {
		return fmt.Errorf("reading %s: %w", path, r.err)
	}
	return nil
}
