// Package store implements the on-disk file store (C4): a mapping of
// file id to manifest plus status, staged per-piece bytes under
// file_parts/, and ordered assembly into files/.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/distfs/rfspeer/internal/manifest"
	"github.com/distfs/rfspeer/internal/rfserr"
)

// Entry is one file store record: its manifest and current status.
type Entry struct {
	Manifest manifest.Manifest
	Status   manifest.Status
}

// Store owns the mapping of file id to Entry, and the filesystem
// directories backing piece staging and assembly. Methods are safe for
// concurrent use.
type Store struct {
	log          *slog.Logger
	filesDir     string
	filePartsDir string
	mu           sync.Mutex
	entries      map[string]Entry
}

// New constructs a Store rooted at filesDir/filePartsDir. Callers
// populate it with AddFile for each manifest loaded at startup.
func New(filesDir, filePartsDir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:          log.With("component", "store"),
		filesDir:     filesDir,
		filePartsDir: filePartsDir,
		entries:      make(map[string]Entry),
	}
}

// AddFile inserts m, idempotent on m.ID: re-inserting the same id is a
// no-op if name and hashes match the existing entry, and fails
// rfserr.ErrConflictingManifest otherwise.
func (s *Store) AddFile(m manifest.Manifest, status manifest.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[m.ID]
	if !ok {
		s.entries[m.ID] = Entry{Manifest: m, Status: status}
		return nil
	}

	if existing.Manifest.Name == m.Name && sameHashes(existing.Manifest.Hashes, m.Hashes) {
		return nil
	}

	return fmt.Errorf("%w: file id %s already maps to a different manifest", rfserr.ErrConflictingManifest, m.ID)
}

func sameHashes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FileIDs returns every file id currently known to the store, in no
// particular order.
func (s *Store) FileIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the Entry for fileID, or rfserr.ErrUnknownFile.
func (s *Store) Get(fileID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fileID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", rfserr.ErrUnknownFile, fileID)
	}
	return e, nil
}

// SetStatus updates the status recorded for fileID.
func (s *Store) SetStatus(fileID string, status manifest.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[fileID]; ok {
		e.Status = status
		s.entries[fileID] = e
	}
}

// ReadPiece locates {filesDir}/{name} and returns the byte range for
// piece index i.
func (s *Store) ReadPiece(fileID string, i uint64) ([]byte, error) {
	e, err := s.Get(fileID)
	if err != nil {
		return nil, err
	}

	pieceCount := uint64(e.Manifest.PieceCount())
	if i >= pieceCount {
		return nil, fmt.Errorf("%w: piece %d out of range for %s (%d pieces)", rfserr.ErrUnknownFile, i, fileID, pieceCount)
	}

	path := filepath.Join(s.filesDir, e.Manifest.Name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", rfserr.ErrIO, path, err)
	}
	defer f.Close()

	start, end := e.Manifest.PieceBounds(int(i))
	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading piece %d of %s: %v", rfserr.ErrIO, i, fileID, err)
	}

	return buf, nil
}

// ReadFile reads the full assembled body of fileID from {filesDir}/{name}.
func (s *Store) ReadFile(fileID string) ([]byte, error) {
	e, err := s.Get(fileID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.filesDir, e.Manifest.Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", rfserr.ErrIO, path, err)
	}
	return data, nil
}

// pieceFilename returns the staging-directory filename for a given file
// id and piece index: "{file_id}:{piece}".
func pieceFilename(fileID string, piece uint64) string {
	return fmt.Sprintf("%s:%d", fileID, piece)
}

// SavePiece writes content to {filePartsDir}/{fileID}:{piece}. Writing
// the same bytes twice is a no-op in effect: the staged file simply gets
// overwritten with identical content.
func (s *Store) SavePiece(fileID string, piece uint64, content []byte) error {
	path := filepath.Join(s.filePartsDir, pieceFilename(fileID, piece))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("%w: staging piece %d of %s: %v", rfserr.ErrIO, piece, fileID, err)
	}
	return nil
}

// HasPiece reports whether a piece has already been staged for fileID.
func (s *Store) HasPiece(fileID string, piece uint64) bool {
	path := filepath.Join(s.filePartsDir, pieceFilename(fileID, piece))
	_, err := os.Stat(path)
	return err == nil
}

// StagedPieces returns the indices currently staged for fileID, sorted
// ascending.
func (s *Store) StagedPieces(fileID string) ([]uint64, error) {
	entries, err := os.ReadDir(s.filePartsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", rfserr.ErrIO, s.filePartsDir, err)
	}

	prefix := fileID + ":"
	var indices []uint64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		var idx uint64
		if _, err := fmt.Sscanf(entry.Name()[len(prefix):], "%d", &idx); err != nil {
			continue
		}
		indices = append(indices, idx)
	}

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

// Assemble concatenates the staged pieces [0, pieceCount) for fileID, in
// index order, into {filesDir}/{name}, then removes each staged piece.
// It fails if any expected piece index is missing from staging.
func (s *Store) Assemble(fileID string, name string, pieceCount int) error {
	staged, err := s.StagedPieces(fileID)
	if err != nil {
		return err
	}
	if len(staged) != pieceCount {
		return fmt.Errorf("%w: %s has %d staged pieces, want %d", rfserr.ErrIO, fileID, len(staged), pieceCount)
	}

	destPath := filepath.Join(s.filesDir, name)
	tmpPath := filepath.Join(s.filesDir, "new-"+name)

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", rfserr.ErrIO, tmpPath, err)
	}

	for i := 0; i < pieceCount; i++ {
		piecePath := filepath.Join(s.filePartsDir, pieceFilename(fileID, uint64(i)))
		data, err := os.ReadFile(piecePath)
		if err != nil {
			out.Close()
			return fmt.Errorf("%w: reading staged piece %d of %s: %v", rfserr.ErrIO, i, fileID, err)
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			return fmt.Errorf("%w: writing %s: %v", rfserr.ErrIO, tmpPath, err)
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("%w: flushing %s: %v", rfserr.ErrIO, tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", rfserr.ErrIO, tmpPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %v", rfserr.ErrIO, tmpPath, destPath, err)
	}

	for i := 0; i < pieceCount; i++ {
		piecePath := filepath.Join(s.filePartsDir, pieceFilename(fileID, uint64(i)))
		if err := os.Remove(piecePath); err != nil {
			s.log.Warn("failed to remove staged piece after assembly", "path", piecePath, "error", err)
		}
	}

	return nil
}
