package liveness

import (
	"net"
	"testing"
	"time"

	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
	"github.com/distfs/rfspeer/internal/store"
)

func servePing(t *testing.T) (addr string, stop func()) {
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
			go func() {
				defer conn.Close()
				f, err := protocol.ReadFrame(conn, 1<<16)
				if err != nil || f.Kind != protocol.KindGetPing {
					return
				}
				protocol.WriteFrame(conn, protocol.NewPingResponse())
			}()
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestLoop_ProbeOne_MergesPing(t *testing.T) {
	addr, stop := servePing(t)
	defer stop()

	st := state.New(store.New(t.TempDir(), t.TempDir(), nil))
	st.AddKnownPeer(addr)

	l := New(st, time.Hour, 2*time.Second, session.Options{MaxFrameSize: 1 << 16, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}, nil)
	l.cycle(nil)

	var found *time.Duration
	for _, r := range st.KnownPeers() {
		if r.Address == addr {
			found = r.Ping
		}
	}
	if found == nil {
		t.Fatalf("expected a recorded ping for %s", addr)
	}
}

func TestLoop_ProbeOne_UnreachableRecordsNilPing(t *testing.T) {
	st := state.New(store.New(t.TempDir(), t.TempDir(), nil))
	st.AddKnownPeer("127.0.0.1:1")
	st.MergePingResults(map[string]*time.Duration{"127.0.0.1:1": ptr(time.Millisecond)})

	l := New(st, time.Hour, 50*time.Millisecond, session.Options{MaxFrameSize: 1 << 16, ReadTimeout: time.Second, WriteTimeout: time.Second}, nil)
	l.cycle(nil)

	for _, r := range st.KnownPeers() {
		if r.Address == "127.0.0.1:1" && r.Ping != nil {
			t.Fatalf("expected ping to become nil for an unreachable peer, got %v", r.Ping)
		}
	}
}

func ptr(d time.Duration) *time.Duration { return &d }
