// Package diskstore is the optional on-disk tier of the image store
// (spec.md §4.1, component C1: "an optional memory-mapped disk cache").
// Entries are plain files under a directory, memory-mapped on load so a
// cache hit costs a page-in rather than a read syscall plus a copy, and an
// index file records which keys are present so the directory does not need
// to be rescanned on startup.
//
// Grounded on the disk-backed segment cache in the retrieved
// SnellerInc/sneller dcache package (other_examples/…tenant-dcache-cache.go):
// same shape (one file per cache entry, open-mmap-keep-until-unreferenced,
// hit/miss/failure counters), adapted from table-segment data to pixel
// buffers and re-expressed with golang.org/x/sys/unix mmap directly, since
// the retrieval pack did not include sneller's own mmap helper file.
package diskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/store"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("diskstore: store is closed")

// indexEntry is the on-disk record for one cached image file.
type indexEntry struct {
	File        string              `json:"file"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	Components  imagekey.Components `json:"components"`
	Depth       imagekey.BitDepth   `json:"depth"`
	PixelAspect float64             `json:"pixel_aspect"`
	RoD         imagekey.Rect       `json:"rod"`
	Bounds      imagekey.PixelRect  `json:"bounds"`
	Checksum    uint32              `json:"checksum"`
}

// Store is a directory-backed, memory-mapped disk tier implementing
// store.DiskTier.
type Store struct {
	dir string

	mu      sync.Mutex
	index   map[imagekey.Key]indexEntry
	mapped  map[imagekey.Key]*mapping
	budget  int64
	used    int64
	closed  bool
	nextSeq uint64
}

type mapping struct {
	data []byte
}

// Open opens (creating if necessary) a disk-backed store rooted at dir,
// loading its index file if one exists.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskstore: creating %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		index:  make(map[imagekey.Key]indexEntry),
		mapped: make(map[imagekey.Key]*mapping),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.json") }

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("diskstore: reading index: %w", err)
	}
	var entries []struct {
		Key   imagekey.Key
		Entry indexEntry
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index is treated as an empty cache rather than a fatal
		// error: every entry is still reproducible by re-rendering.
		return nil
	}
	for _, e := range entries {
		s.index[e.Key] = e.Entry
	}
	return nil
}

func (s *Store) saveIndexLocked() error {
	type record struct {
		Key   imagekey.Key
		Entry indexEntry
	}
	records := make([]record, 0, len(s.index))
	for k, v := range s.index {
		records = append(records, record{Key: k, Entry: v})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

// Load implements store.DiskTier.
func (s *Store) Load(key imagekey.Key) (*store.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	entry, ok := s.index[key]
	if !ok {
		return nil, false
	}
	m, ok := s.mapped[key]
	if !ok {
		path := filepath.Join(s.dir, entry.File)
		data, err := mmapFile(path)
		if err != nil {
			delete(s.index, key)
			return nil, false
		}
		if checksum(data) != entry.Checksum {
			_ = unix.Munmap(data)
			delete(s.index, key)
			return nil, false
		}
		m = &mapping{data: data}
		s.mapped[key] = m
	}
	img := store.NewImageFromBytes(key, entry.Bounds, entry.RoD, entry.PixelAspect, m.data)
	return img, true
}

// Store implements store.DiskTier: it persists img's pixel buffer to a new
// file and records it in the index.
func (s *Store) Store(key imagekey.Key, img *store.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	buf := img.Buf()
	data := buf.Data()

	s.nextSeq++
	name := fmt.Sprintf("%016x-%d.tile", key.NodeHash, s.nextSeq)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("diskstore: writing %s: %w", path, err)
	}

	if old, ok := s.index[key]; ok {
		s.removeFileLocked(key, old)
	}

	s.index[key] = indexEntry{
		File:        name,
		Width:       buf.Width(),
		Height:      buf.Height(),
		Components:  buf.Components(),
		Depth:       buf.Depth(),
		PixelAspect: img.PixelAspect,
		RoD:         img.RoD,
		Bounds:      img.Bounds,
		Checksum:    checksum(data),
	}
	s.used += int64(len(data))
	return s.saveIndexLocked()
}

// Evict implements store.DiskTier.
func (s *Store) Evict(key imagekey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[key]
	if !ok {
		return
	}
	s.removeFileLocked(key, entry)
	delete(s.index, key)
	_ = s.saveIndexLocked()
}

func (s *Store) removeFileLocked(key imagekey.Key, entry indexEntry) {
	if m, ok := s.mapped[key]; ok {
		_ = unix.Munmap(m.data)
		delete(s.mapped, key)
	}
	s.used -= int64(fileSizeOrZero(filepath.Join(s.dir, entry.File)))
	_ = os.Remove(filepath.Join(s.dir, entry.File))
}

func fileSizeOrZero(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// SetBudget implements store.DiskTier. Enforcement is advisory: callers that
// want strict LRU eviction under the budget should pair this with periodic
// calls to Evict driven by store.Store's own budget accounting, since
// diskstore has no visibility into the RAM tier's recency order.
func (s *Store) SetBudget(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = bytes
}

// Close unmaps every open mapping. The index and backing files remain on
// disk for the next Open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for k, m := range s.mapped {
		_ = unix.Munmap(m.data)
		delete(s.mapped, k)
	}
	return nil
}

// Used reports the current approximate on-disk byte usage.
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func mmapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return []byte{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("diskstore: mmap %s: %w", path, err)
	}
	return data, nil
}

// checksum is a cheap integrity check over a file's contents, guarding
// against truncated writes from a prior crash; it is not a security
// checksum.
func checksum(data []byte) uint32 {
	var h uint32 = 2166136261
	for _, b := range data {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}
