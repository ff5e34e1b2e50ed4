package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distfs/rfspeer/internal/manifest"
	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
	"github.com/distfs/rfspeer/internal/store"
)

// fakePeer serves GetInfo/GetPing/GetFilePiece from an in-memory piece
// set, mimicking the listener's dispatch without pulling in the
// listener package.
type fakePeer struct {
	pieces     [][]byte
	fileID     string
	knownPeers []protocol.KnownPeer
}

func (p *fakePeer) serve(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.handle(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func (p *fakePeer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		f, err := protocol.ReadFrame(conn, 1<<16)
		if err != nil {
			return
		}
		switch f.Kind {
		case protocol.KindGetInfo:
			protocol.WriteFrame(conn, protocol.NewInfoResponse([]string{p.fileID}, p.knownPeers))
		case protocol.KindGetPing:
			protocol.WriteFrame(conn, protocol.NewPingResponse())
		case protocol.KindGetFilePiece:
			body := f.Body.(protocol.GetFilePiece)
			protocol.WriteFrame(conn, protocol.NewFilePieceResponse(body.FileID, body.Piece, p.pieces[body.Piece]))
		}
	}
}

func buildManifest(t *testing.T, pieces [][]byte, peers []string) manifest.Manifest {
	t.Helper()
	var all []byte
	hashes := make([]string, len(pieces))
	for i, p := range pieces {
		sum := sha256.Sum256(p)
		hashes[i] = base64.StdEncoding.EncodeToString(sum[:])
		all = append(all, p...)
	}
	whole := sha256.Sum256(all)

	return manifest.Manifest{
		ID:        "file-1",
		Hash:      base64.StdEncoding.EncodeToString(whole[:]),
		Name:      "x.bin",
		Length:    uint64(len(all)),
		Peers:     peers,
		PieceSize: uint64(len(pieces[0])),
		Hashes:    hashes,
	}
}

func defaultOpts() session.Options {
	return session.Options{MaxFrameSize: 1 << 16, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}
}

func TestDownload_SinglePeer(t *testing.T) {
	pieces := [][]byte{[]byte("piece-aaaa"), []byte("piece-bbbb"), []byte("piece-cccc")}
	peer := &fakePeer{pieces: pieces, fileID: "file-1"}
	addr, stop := peer.serve(t)
	defer stop()

	m := buildManifest(t, pieces, []string{addr})

	filesDir, partsDir := t.TempDir(), t.TempDir()
	st := store.New(filesDir, partsDir, nil)
	if err := st.AddFile(m, manifest.NotDownloaded); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	shared := state.New(st)
	sched := New(shared, 2*time.Second, defaultOpts(), "", nil, nil)

	if err := sched.Download(context.Background(), "file-1"); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(filesDir, "x.bin"))
	if err != nil {
		t.Fatalf("ReadFile assembled: %v", err)
	}

	var want []byte
	for _, p := range pieces {
		want = append(want, p...)
	}
	if string(got) != string(want) {
		t.Fatalf("assembled = %q, want %q", got, want)
	}

	entry, err := st.Get("file-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Status != manifest.Downloaded {
		t.Fatalf("status = %s, want Downloaded", entry.Status)
	}
}

func TestDownload_UnknownFileFails(t *testing.T) {
	st := store.New(t.TempDir(), t.TempDir(), nil)
	shared := state.New(st)
	sched := New(shared, time.Second, defaultOpts(), "", nil, nil)

	if err := sched.Download(context.Background(), "nope"); err == nil {
		t.Fatalf("Download should fail for an unknown file id")
	}
}

func TestDownload_NoReachablePeersFails(t *testing.T) {
	pieces := [][]byte{[]byte("only-piece")}
	m := buildManifest(t, pieces, []string{"127.0.0.1:1"})

	st := store.New(t.TempDir(), t.TempDir(), nil)
	if err := st.AddFile(m, manifest.NotDownloaded); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	shared := state.New(st)
	sched := New(shared, 200*time.Millisecond, defaultOpts(), "", nil, nil)

	if err := sched.Download(context.Background(), "file-1"); err == nil {
		t.Fatalf("Download should fail when no peer is reachable")
	}
}

func TestDownload_MergesGossipedKnownPeers(t *testing.T) {
	pieces := [][]byte{[]byte("only-piece")}
	peer := &fakePeer{
		pieces: pieces,
		fileID: "file-1",
		knownPeers: []protocol.KnownPeer{
			{Address: "127.0.0.1:9999"},
			{Address: "own-address"},
		},
	}
	addr, stop := peer.serve(t)
	defer stop()

	m := buildManifest(t, pieces, []string{addr})

	st := store.New(t.TempDir(), t.TempDir(), nil)
	if err := st.AddFile(m, manifest.NotDownloaded); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	shared := state.New(st)
	sched := New(shared, 2*time.Second, defaultOpts(), "own-address", nil, nil)

	if err := sched.Download(context.Background(), "file-1"); err != nil {
		t.Fatalf("Download: %v", err)
	}

	known := shared.KnownPeerAddresses()
	foundGossiped, foundSelf := false, false
	for _, a := range known {
		if a == "127.0.0.1:9999" {
			foundGossiped = true
		}
		if a == "own-address" {
			foundSelf = true
		}
	}
	if !foundGossiped {
		t.Fatalf("known peers %v should contain the gossiped address", known)
	}
	if foundSelf {
		t.Fatalf("known peers %v should not contain this peer's own address", known)
	}
}

func TestDownload_WholeFileHashMismatchFailsAndResetsStatus(t *testing.T) {
	pieces := [][]byte{[]byte("piece-aaaa"), []byte("piece-bbbb")}
	peer := &fakePeer{pieces: pieces, fileID: "file-1"}
	addr, stop := peer.serve(t)
	defer stop()

	m := buildManifest(t, pieces, []string{addr})
	// Corrupt the recorded whole-file hash so assembly verification fails
	// even though every piece hash (and therefore every piece fetch)
	// succeeds.
	m.Hash = base64.StdEncoding.EncodeToString(make([]byte, 32))

	filesDir, partsDir := t.TempDir(), t.TempDir()
	st := store.New(filesDir, partsDir, nil)
	if err := st.AddFile(m, manifest.NotDownloaded); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	shared := state.New(st)
	sched := New(shared, 2*time.Second, defaultOpts(), "", nil, nil)

	if err := sched.Download(context.Background(), "file-1"); err == nil {
		t.Fatalf("Download should fail on a whole-file hash mismatch")
	}

	entry, err := st.Get("file-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Status != manifest.NotDownloaded {
		t.Fatalf("status = %s, want NotDownloaded after a failed verification", entry.Status)
	}
}

func TestDownload_TwoPeersAssemblesFile(t *testing.T) {
	pieces := [][]byte{[]byte("piece-0000"), []byte("piece-1111"), []byte("piece-2222")}
	peerA := &fakePeer{pieces: pieces, fileID: "file-1"}
	peerB := &fakePeer{pieces: pieces, fileID: "file-1"}
	addrA, stopA := peerA.serve(t)
	addrB, stopB := peerB.serve(t)
	defer stopA()
	defer stopB()

	m := buildManifest(t, pieces, []string{addrA, addrB})

	filesDir, partsDir := t.TempDir(), t.TempDir()
	st := store.New(filesDir, partsDir, nil)
	if err := st.AddFile(m, manifest.NotDownloaded); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	shared := state.New(st)
	sched := New(shared, 2*time.Second, defaultOpts(), "", nil, nil)

	if err := sched.Download(context.Background(), "file-1"); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(filesDir, "x.bin"))
	if err != nil {
		t.Fatalf("ReadFile assembled: %v", err)
	}
	var want []byte
	for _, p := range pieces {
		want = append(want, p...)
	}
	if string(got) != string(want) {
		t.Fatalf("assembled = %q, want %q", got, want)
	}
}
