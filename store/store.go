// Package store keeps the terminal's card records in buckets, one file per
// record.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alovak/cardflow-pos/card"
	"golang.org/x/exp/slog"
)

var ErrNotFound = fmt.Errorf("not found")

// Store is the ordered set of records in one bucket. Ids are assigned on
// first insertion, only ever increase, and are not reused after removal.
type Store struct {
	bucket   card.Bucket
	dir      string
	registry *Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	records []*card.Record
	lastID  int
}

// New returns an empty store for bucket. Records are written under dir; an
// empty dir keeps the store in memory only.
func New(bucket card.Bucket, dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		bucket: bucket,
		dir:    dir,
		logger: logger.With(slog.String("store", bucket.String())),
	}
}

func (s *Store) Bucket() card.Bucket {
	return s.bucket
}

func (s *Store) prefix() string {
	return s.bucket.String() + "-"
}

func (s *Store) path(id int) string {
	return filepath.Join(s.dir, s.prefix()+strconv.Itoa(id))
}

// Scan loads every record file in the store's directory. Files that cannot
// be read are logged and skipped.
func (s *Store) Scan() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning %s: %w", s.dir, err)
	}

	var loaded []*card.Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.prefix()) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, s.prefix()))
		if err != nil || id <= 0 {
			continue
		}
		r, err := card.Load(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Error("skipping unreadable record", "file", name, "err", err)
			continue
		}
		r.ID = id
		r.Bucket = s.bucket
		loaded = append(loaded, r)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = loaded
	for _, r := range loaded {
		if r.ID > s.lastID {
			s.lastID = r.ID
		}
	}
	s.logger.Info("records loaded", "count", len(loaded))
	return nil
}

// Add files r in the store and writes it out. A record the store does not
// own yet gets the next id; one owned by another bucket is taken from that
// store first. Adding an owned record only writes it again. It returns the
// record's id.
func (s *Store) Add(r *card.Record) (int, error) {
	if r.Bucket != card.BucketNone && r.Bucket != s.bucket {
		if from := s.registry.Store(r.Bucket); from != nil {
			if err := from.detach(r); err != nil {
				return 0, err
			}
		}
	}

	s.mu.Lock()
	if r.Bucket != s.bucket || r.ID == 0 {
		s.lastID++
		r.ID = s.lastID
		r.Bucket = s.bucket
		s.records = append(s.records, r)
	}
	id := r.ID
	s.mu.Unlock()

	return id, s.Save(r)
}

// Save writes r's file again after it changed.
func (s *Store) Save(r *card.Record) error {
	if s.dir == "" {
		return nil
	}
	if err := r.Save(s.path(r.ID)); err != nil {
		return fmt.Errorf("saving %s record %d: %w", s.bucket, r.ID, err)
	}
	return nil
}

// Remove drops the record with id and deletes its file.
func (s *Store) Remove(id int) (*card.Record, error) {
	s.mu.Lock()
	r := s.take(id)
	s.mu.Unlock()
	if r == nil {
		return nil, ErrNotFound
	}
	if err := s.removeFile(id); err != nil {
		return r, err
	}
	r.Bucket = card.BucketNone
	return r, nil
}

func (s *Store) detach(r *card.Record) error {
	s.mu.Lock()
	taken := s.take(r.ID)
	s.mu.Unlock()
	if taken == nil {
		return nil
	}
	return s.removeFile(r.ID)
}

// take removes id from the slice. Callers hold mu.
func (s *Store) take(id int) *card.Record {
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return r
		}
	}
	return nil
}

func (s *Store) removeFile(id int) error {
	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s record %d: %w", s.bucket, id, err)
	}
	return nil
}

// At returns the record at position i, for paging through reports.
func (s *Store) At(i int) (*card.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.records) {
		return nil, false
	}
	return s.records[i], true
}

func (s *Store) Find(id int) (*card.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns the records in insertion order.
func (s *Store) Records() []*card.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*card.Record(nil), s.records...)
}

// HasOpen reports whether any record is neither voided nor refunded.
func (s *Store) HasOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.IsOpen() {
			return true
		}
	}
	return false
}

// Registry holds the three buckets of one terminal.
type Registry struct {
	Exceptions *Store
	Refunds    *Store
	Voids      *Store
}

func NewRegistry(dir string, logger *slog.Logger) *Registry {
	reg := &Registry{
		Exceptions: New(card.BucketException, dir, logger),
		Refunds:    New(card.BucketRefund, dir, logger),
		Voids:      New(card.BucketVoid, dir, logger),
	}
	for _, s := range reg.All() {
		s.registry = reg
	}
	return reg
}

// Store returns the store for bucket, or nil for BucketNone.
func (reg *Registry) Store(b card.Bucket) *Store {
	if reg == nil {
		return nil
	}
	switch b {
	case card.BucketException:
		return reg.Exceptions
	case card.BucketRefund:
		return reg.Refunds
	case card.BucketVoid:
		return reg.Voids
	}
	return nil
}

func (reg *Registry) All() []*Store {
	return []*Store{reg.Exceptions, reg.Refunds, reg.Voids}
}

// Scan loads every bucket from disk.
func (reg *Registry) Scan() error {
	for _, s := range reg.All() {
		if err := s.Scan(); err != nil {
			return err
		}
	}
	return nil
}
