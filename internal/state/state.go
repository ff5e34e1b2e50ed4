// Package state provides the shared state container (C8): it holds the
// known-peer set, the file store, and the per-piece progress table, with
// one coarse lock guarding the peer set and the progress table (the file
// store does its own locking). Callers acquire, read or mutate, and
// release; the lock must never be held across network or disk I/O.
package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/store"
)

// PeerRecord is one entry of the known-peer set: an address and its
// most recently measured ping, or nil if the peer is currently
// unreachable.
type PeerRecord struct {
	Address string
	Ping    *time.Duration
}

// PieceProgress is one entry of the progress table: the download status
// of a single piece of a single file.
type PieceProgress struct {
	FileID string
	Piece  uint64
	Status protocol.PieceStatus
}

// State owns the known-peer set, the file store, and the progress
// table. Store() returns the *store.Store
// directly since it has its own internal locking appropriate to disk
// I/O; State's own lock guards only the peer set and progress table.
type State struct {
	store *store.Store

	mu       sync.Mutex
	peers    map[string]PeerRecord
	progress map[string]protocol.PieceStatus // key: "{file_id}:{piece}"
}

// New constructs a State backed by the given Store.
func New(st *store.Store) *State {
	return &State{
		store:    st,
		peers:    make(map[string]PeerRecord),
		progress: make(map[string]protocol.PieceStatus),
	}
}

// Store returns the file store. Its own methods already take the
// minimum lock needed for disk I/O; it does not share State's mutex.
func (s *State) Store() *store.Store { return s.store }

// AddKnownPeer inserts address with no ping recorded yet, if not already
// present.
func (s *State) AddKnownPeer(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[address]; !ok {
		s.peers[address] = PeerRecord{Address: address}
	}
}

// KnownPeerAddresses returns a snapshot of every known peer address.
// Callers release before dialing any of them.
func (s *State) KnownPeerAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		addrs = append(addrs, addr)
	}
	return addrs
}

// KnownPeers returns a snapshot of the known-peer set.
func (s *State) KnownPeers() []PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]PeerRecord, 0, len(s.peers))
	for _, r := range s.peers {
		records = append(records, r)
	}
	return records
}

// MergePingResults takes the lock once and applies results (address ->
// ping, or nil if the peer failed to respond) to the known-peer set,
// matching by address.
func (s *State) MergePingResults(results map[string]*time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, ping := range results {
		s.peers[addr] = PeerRecord{Address: addr, Ping: ping}
	}
}

// AsProtocolKnownPeers renders the known-peer set as the wire
// representation used in InfoResponse.
func (s *State) AsProtocolKnownPeers() []protocol.KnownPeer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.KnownPeer, 0, len(s.peers))
	for _, r := range s.peers {
		kp := protocol.KnownPeer{Address: r.Address}
		if r.Ping != nil {
			micros := uint64(r.Ping.Microseconds())
			kp.Ping = &micros
		}
		out = append(out, kp)
	}
	return out
}

func progressKey(fileID string, piece uint64) string {
	return fileID + ":" + strconv.FormatUint(piece, 10)
}

// SetProgress records the download status of one piece.
func (s *State) SetProgress(fileID string, piece uint64, status protocol.PieceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progressKey(fileID, piece)] = status
}

// Progress returns the recorded status of one piece, or
// NotDownloaded if no entry exists.
func (s *State) Progress(fileID string, piece uint64) protocol.PieceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.progress[progressKey(fileID, piece)]; ok {
		return status
	}
	return protocol.StatusNotDownloaded
}

