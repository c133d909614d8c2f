package batch

import (
	"errors"
	"fmt"
	"os"

	"github.com/alovak/cardflow-pos/internal/recordfile"
)

// maxHops bounds how many archives one cursor move may step over.
const maxHops = 32

// Codec describes how one entry type is laid out in its history file.
type Codec[T any] struct {
	MinVersion int
	Version    int
	Write      func(w *recordfile.Writer, v T)
	Read       func(r *recordfile.Reader, version int) T
}

// Archive supplies the entries of one archived period.
type Archive[T any] interface {
	Load() ([]T, error)
}

// FileArchive is an archived history file written by Chronicle.Save.
type FileArchive[T any] struct {
	Path  string
	Codec Codec[T]
}

func (a FileArchive[T]) Load() ([]T, error) {
	return loadEntries(a.Path, a.Codec)
}

type segment[T any] struct {
	archive Archive[T]
	loaded  bool
	entries []T
}

func (s *segment[T]) load() error {
	if s.loaded || s.archive == nil {
		return nil
	}
	s.loaded = true
	entries, err := s.archive.Load()
	s.entries = entries
	return err
}

// Chronicle is an append-only history with a cursor. Walking back past the
// oldest live entry continues into the archives, newest archive first; each
// archive is read on its first visit.
type Chronicle[T any] struct {
	codec    Codec[T]
	segments []*segment[T] // [0] is live, then archives by increasing age
	seg, idx int
	loadErr  error
}

func NewChronicle[T any](codec Codec[T]) *Chronicle[T] {
	return &Chronicle[T]{
		codec:    codec,
		segments: []*segment[T]{{loaded: true}},
		idx:      -1,
	}
}

// SetArchives replaces the archive sequence, newest first, and resets the
// cursor.
func (c *Chronicle[T]) SetArchives(archives ...Archive[T]) {
	c.segments = c.segments[:1]
	for _, a := range archives {
		c.segments = append(c.segments, &segment[T]{archive: a})
	}
	c.Reset()
}

// Append adds an entry to the live list and moves the cursor onto it.
func (c *Chronicle[T]) Append(v T) {
	live := c.segments[0]
	live.entries = append(live.entries, v)
	c.seg, c.idx = 0, len(live.entries)-1
}

// Entries returns the live entries, oldest first.
func (c *Chronicle[T]) Entries() []T {
	return append([]T(nil), c.segments[0].entries...)
}

func (c *Chronicle[T]) Len() int {
	return len(c.segments[0].entries)
}

// Last returns the newest live entry.
func (c *Chronicle[T]) Last() (T, bool) {
	live := c.segments[0].entries
	if len(live) == 0 {
		var zero T
		return zero, false
	}
	return live[len(live)-1], true
}

// Reset puts the cursor on the newest live entry, or on the newest archived
// one when the live list is empty.
func (c *Chronicle[T]) Reset() {
	c.seg, c.idx = 0, len(c.segments[0].entries)-1
	if c.idx < 0 {
		c.Fore()
	}
}

// Current returns the entry under the cursor.
func (c *Chronicle[T]) Current() (T, bool) {
	var zero T
	if c.seg >= len(c.segments) {
		return zero, false
	}
	entries := c.segments[c.seg].entries
	if c.idx < 0 || c.idx >= len(entries) {
		return zero, false
	}
	return entries[c.idx], true
}

// Fore moves to the next older entry.
func (c *Chronicle[T]) Fore() (T, bool) {
	seg, idx := c.seg, c.idx-1
	for hops := 0; idx < 0; hops++ {
		if hops > maxHops || seg+1 >= len(c.segments) {
			var zero T
			return zero, false
		}
		seg++
		if err := c.segments[seg].load(); err != nil {
			c.loadErr = err
		}
		idx = len(c.segments[seg].entries) - 1
	}
	c.seg, c.idx = seg, idx
	return c.Current()
}

// Next moves to the next newer entry.
func (c *Chronicle[T]) Next() (T, bool) {
	seg, idx := c.seg, c.idx+1
	for hops := 0; idx >= len(c.segments[seg].entries); hops++ {
		if hops > maxHops || seg == 0 {
			var zero T
			return zero, false
		}
		seg--
		idx = 0
	}
	c.seg, c.idx = seg, idx
	return c.Current()
}

// Err returns the last archive load failure. A failed archive reads as empty.
func (c *Chronicle[T]) Err() error {
	return c.loadErr
}

// Save writes the live entries to path.
func (c *Chronicle[T]) Save(path string) error {
	entries := c.segments[0].entries
	return recordfile.Save(path, c.codec.Version, func(w *recordfile.Writer) {
		w.Int(int64(len(entries)))
		for _, e := range entries {
			c.codec.Write(w, e)
		}
	})
}

// Load replaces the live entries with those in path. A missing file or one
// written at an unsupported version leaves the history empty.
func (c *Chronicle[T]) Load(path string) error {
	entries, err := loadEntries(path, c.codec)
	if err != nil {
		return err
	}
	c.segments[0].entries = entries
	c.Reset()
	return nil
}

func loadEntries[T any](path string, codec Codec[T]) ([]T, error) {
	var entries []T
	err := recordfile.Load(path, codec.MinVersion, codec.Version, func(r *recordfile.Reader, version int) {
		n := int(r.Int())
		for i := 0; i < n && r.Err() == nil; i++ {
			entries = append(entries, codec.Read(r, version))
		}
	})
	switch {
	case err == nil:
		return entries, nil
	case errors.Is(err, os.ErrNotExist), errors.Is(err, recordfile.ErrVersion):
		return nil, nil
	default:
		return nil, fmt.Errorf("loading history: %w", err)
	}
}
