package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir string, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestBuild_PieceCountAndHashes(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		pieceSize  uint64
		wantPieces int
	}{
		{name: "exact multiple", length: 32768, pieceSize: 16384, wantPieces: 2},
		{name: "remainder", length: 40000, pieceSize: 16384, wantPieces: 3},
		{name: "empty file", length: 0, pieceSize: 16384, wantPieces: 0},
		{name: "single short piece", length: 100, pieceSize: 16384, wantPieces: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			content := bytes.Repeat([]byte{0x42}, tt.length)
			path := writeTempFile(t, dir, "x.bin", content)

			m, err := Build(path, "127.0.0.1:8001", tt.pieceSize)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			if got := m.PieceCount(); got != tt.wantPieces {
				t.Fatalf("PieceCount() = %d, want %d", got, tt.wantPieces)
			}
			if m.Length != uint64(tt.length) {
				t.Fatalf("Length = %d, want %d", m.Length, tt.length)
			}
			if m.Name != "x.bin" {
				t.Fatalf("Name = %q, want x.bin", m.Name)
			}
			if len(m.Peers) != 1 || m.Peers[0] != "127.0.0.1:8001" {
				t.Fatalf("Peers = %v, want [127.0.0.1:8001]", m.Peers)
			}
			if m.ID == "" {
				t.Fatalf("ID is empty")
			}

			if !m.VerifyWhole(content) {
				t.Fatalf("VerifyWhole rejected the source content")
			}

			for i := 0; i < tt.wantPieces; i++ {
				start, end := m.PieceBounds(i)
				if !m.VerifyPiece(i, content[start:end]) {
					t.Fatalf("VerifyPiece(%d) rejected a correct piece", i)
				}
			}
		})
	}
}

func TestBuild_FinalPieceBounds(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x7}, 40000)
	path := writeTempFile(t, dir, "x.bin", content)

	m, err := Build(path, "127.0.0.1:8001", 16384)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	start, end := m.PieceBounds(2)
	if got, want := end-start, uint64(40000-2*16384); got != want {
		t.Fatalf("final piece length = %d, want %d", got, want)
	}
}

func TestVerifyPiece_RejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x1}, 20000)
	path := writeTempFile(t, dir, "x.bin", content)

	m, err := Build(path, "127.0.0.1:8001", 16384)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	corrupted := make([]byte, 16384)
	copy(corrupted, content[:16384])
	corrupted[0] ^= 0xFF

	if m.VerifyPiece(0, corrupted) {
		t.Fatalf("VerifyPiece accepted corrupted bytes")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello manifest")
	path := writeTempFile(t, dir, "greeting.txt", content)

	m, err := Build(path, "127.0.0.1:8001", 16384)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	metaDir := t.TempDir()
	if err := Save(m, metaDir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(filepath.Join(metaDir, "greeting.rfs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.ID != m.ID || loaded.Hash != m.Hash || loaded.Name != m.Name {
		t.Fatalf("loaded manifest %+v does not match built %+v", loaded, m)
	}
}

func TestLoadAll_SkipsNonRFSFiles(t *testing.T) {
	dir := t.TempDir()
	content := []byte("abc")
	path := writeTempFile(t, t.TempDir(), "f.bin", content)

	m, err := Build(path, "127.0.0.1:8001", 16384)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := Save(m, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	writeTempFile(t, dir, "notes.txt", []byte("ignore me"))

	manifests, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(manifests) != 1 || manifests[0].ID != m.ID {
		t.Fatalf("LoadAll = %+v, want single manifest %+v", manifests, m)
	}
}

func TestRefreshStatus(t *testing.T) {
	filesDir := t.TempDir()
	m := Manifest{Name: "present.bin"}

	status, err := RefreshStatus(m, filesDir, NotDownloaded)
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if status != NotDownloaded {
		t.Fatalf("status = %s, want NotDownloaded", status)
	}

	status, err = RefreshStatus(m, filesDir, Downloading)
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if status != Downloading {
		t.Fatalf("status = %s, want Downloading preserved", status)
	}

	writeTempFile(t, filesDir, "present.bin", []byte("data"))
	status, err = RefreshStatus(m, filesDir, NotDownloaded)
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if status != Downloaded {
		t.Fatalf("status = %s, want Downloaded", status)
	}
}
