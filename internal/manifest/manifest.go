// Package manifest builds, loads and verifies the immutable descriptor
// of a published file: its identity, size, piece size, and per-piece
// hashes. On disk a manifest is JSON with camelCase keys under a
// ".rfs" extension.
package manifest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/distfs/rfspeer/internal/rfserr"
)

// Status is a file's local download state, tracked alongside (not
// inside) the manifest JSON.
type Status string

const (
	NotDownloaded Status = "NotDownloaded"
	Downloading   Status = "Downloading"
	Downloaded    Status = "Downloaded"
)

// Manifest is the immutable descriptor of a published file. Field names
// match the on-disk JSON (camelCase) per the on-disk layout contract.
type Manifest struct {
	ID        string   `json:"id"`
	Hash      string   `json:"hash"`
	Name      string   `json:"name"`
	Length    uint64   `json:"length"`
	Peers     []string `json:"peers"`
	PieceSize uint64   `json:"pieceSize"`
	Hashes    []string `json:"hashes"`
}

// PieceCount returns len(Hashes), the number of pieces the file was
// partitioned into.
func (m Manifest) PieceCount() int { return len(m.Hashes) }

// PieceBounds returns the half-open byte range [start, end) of piece i
// within the whole file body.
func (m Manifest) PieceBounds(i int) (start, end uint64) {
	start = uint64(i) * m.PieceSize
	end = start + m.PieceSize
	if end > m.Length {
		end = m.Length
	}
	return start, end
}

// Build reads the file at path in full, hashes the whole body and each
// piece, assigns a fresh UUID v4 id, seeds Peers with hostAddress, and
// returns the resulting Manifest. pieceSize must be > 0.
func Build(path, hostAddress string, pieceSize uint64) (Manifest, error) {
	if pieceSize == 0 {
		return Manifest{}, fmt.Errorf("%w: piece size must be > 0", rfserr.ErrConfig)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: reading %s: %v", rfserr.ErrIO, path, err)
	}

	whole := sha256.Sum256(contents)

	pieceCount := 0
	if len(contents) > 0 {
		pieceCount = int(math.Ceil(float64(len(contents)) / float64(pieceSize)))
	}

	hashes := make([]string, pieceCount)
	for i := 0; i < pieceCount; i++ {
		start := uint64(i) * pieceSize
		end := start + pieceSize
		if end > uint64(len(contents)) {
			end = uint64(len(contents))
		}
		sum := sha256.Sum256(contents[start:end])
		hashes[i] = base64.StdEncoding.EncodeToString(sum[:])
	}

	return Manifest{
		ID:        uuid.NewString(),
		Hash:      base64.StdEncoding.EncodeToString(whole[:]),
		Name:      filepath.Base(path),
		Length:    uint64(len(contents)),
		Peers:     []string{hostAddress},
		PieceSize: pieceSize,
		Hashes:    hashes,
	}, nil
}

// VerifyPiece reports whether content hashes to the manifest's recorded
// hash for piece index i. A hash mismatch is reported via the boolean
// return, not an error, so callers can decide how to react (retry on
// another session, in the scheduler's case).
func (m Manifest) VerifyPiece(i int, content []byte) bool {
	if i < 0 || i >= len(m.Hashes) {
		return false
	}
	sum := sha256.Sum256(content)
	return base64.StdEncoding.EncodeToString(sum[:]) == m.Hashes[i]
}

// VerifyWhole reports whether content hashes to the manifest's whole-file
// hash.
func (m Manifest) VerifyWhole(content []byte) bool {
	sum := sha256.Sum256(content)
	return base64.StdEncoding.EncodeToString(sum[:]) == m.Hash
}

// Save writes m as camelCase JSON to {metafilesDir}/{basename(m.Name)}.rfs,
// where basename strips any extension from m.Name.
func Save(m Manifest, metafilesDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling manifest %s: %v", rfserr.ErrIO, m.ID, err)
	}

	path := filepath.Join(metafilesDir, stem(m.Name)+".rfs")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", rfserr.ErrIO, path, err)
	}

	return nil
}

// Load reads and parses a single ".rfs" manifest file.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: reading %s: %v", rfserr.ErrIO, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: parsing %s: %v", rfserr.ErrIO, path, err)
	}

	return m, nil
}

// LoadAll reads every "*.rfs" file directly inside metafilesDir.
func LoadAll(metafilesDir string) ([]Manifest, error) {
	entries, err := os.ReadDir(metafilesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", rfserr.ErrIO, metafilesDir, err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rfs" {
			continue
		}

		m, err := Load(filepath.Join(metafilesDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}

	return manifests, nil
}

// RefreshStatus reports the on-disk download status of m by testing
// whether {filesDir}/{m.Name} exists. If it does, status is Downloaded.
// If it does not and current is not Downloading, status becomes
// NotDownloaded; otherwise current is returned unchanged. Any other I/O
// error leaves current unchanged and is returned for the caller to log.
func RefreshStatus(m Manifest, filesDir string, current Status) (Status, error) {
	_, err := os.Stat(filepath.Join(filesDir, m.Name))
	switch {
	case err == nil:
		return Downloaded, nil
	case os.IsNotExist(err):
		if current == Downloading {
			return current, nil
		}
		return NotDownloaded, nil
	default:
		return current, fmt.Errorf("%w: statting %s: %v", rfserr.ErrIO, m.Name, err)
	}
}

func stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
