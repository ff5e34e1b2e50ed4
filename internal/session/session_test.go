package session

import (
	"net"
	"testing"
	"time"

	"github.com/distfs/rfspeer/internal/protocol"
)

func pipeSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	opts := Options{MaxFrameSize: 1 << 16, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}
	return newSession(a, opts, nil), newSession(b, opts, nil)
}

func TestPing_RoundTrip(t *testing.T) {
	client, server := pipeSessions(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		f, err := server.ReadFrame()
		if err != nil {
			done <- err
			return
		}
		if f.Kind != protocol.KindGetPing {
			done <- nil
			return
		}
		done <- server.WriteFrame(protocol.NewPingResponse())
	}()

	d, err := client.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if d < 0 {
		t.Fatalf("Ping duration negative: %v", d)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestRetrieveInfo_AdvancesState(t *testing.T) {
	client, server := pipeSessions(t)
	defer client.Close()
	defer server.Close()

	go func() {
		f, err := server.ReadFrame()
		if err != nil || f.Kind != protocol.KindGetInfo {
			return
		}
		if err := server.WriteFrame(protocol.NewInfoResponse([]string{"file-1"}, nil)); err != nil {
			return
		}
		f, err = server.ReadFrame()
		if err != nil || f.Kind != protocol.KindGetPing {
			return
		}
		server.WriteFrame(protocol.NewPingResponse())
	}()

	if err := client.RetrieveInfo(); err != nil {
		t.Fatalf("RetrieveInfo: %v", err)
	}
	if client.State() != InfoRetrieved {
		t.Fatalf("State() = %v, want InfoRetrieved", client.State())
	}
	info := client.Info()
	if info == nil || len(info.FileIDs) != 1 || info.FileIDs[0] != "file-1" {
		t.Fatalf("Info() = %+v, want FileIDs=[file-1]", info)
	}
}

func TestRetrieveInfo_RequiresConnectedState(t *testing.T) {
	client, server := pipeSessions(t)
	defer client.Close()
	defer server.Close()

	client.mu.Lock()
	client.state = InfoRetrieved
	client.mu.Unlock()

	if err := client.RetrieveInfo(); err == nil {
		t.Fatalf("RetrieveInfo should fail when state is already InfoRetrieved")
	}
}

func TestGetFilePiece_SkipsNonMatchingFrames(t *testing.T) {
	client, server := pipeSessions(t)
	defer client.Close()
	defer server.Close()

	go func() {
		f, err := server.ReadFrame()
		if err != nil || f.Kind != protocol.KindGetFilePiece {
			return
		}
		// an unrelated response that the client must skip
		server.WriteFrame(protocol.NewFilePieceResponse("other-file", 9, []byte("wrong")))
		server.WriteFrame(protocol.NewFilePieceResponse("file-1", 2, []byte("right")))
	}()

	resp, err := client.GetFilePiece("file-1", 2)
	if err != nil {
		t.Fatalf("GetFilePiece: %v", err)
	}
	if string(resp.Content) != "right" {
		t.Fatalf("Content = %q, want right", resp.Content)
	}
}
