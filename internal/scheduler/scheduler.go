// Package scheduler implements the download scheduler (C5): for a given
// file id, it opens sessions to every peer in its manifest, measures ping,
// allocates pieces in proportion to inverse ping, fetches them
// concurrently across sessions (serially within each), verifies and
// stages each piece, and assembles the final file.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distfs/rfspeer/internal/manifest"
	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/retry"
	"github.com/distfs/rfspeer/internal/rfserr"
	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
)

// Observer receives FilePieceDownloadStatusResponse-shaped progress
// events before and after each piece. It is called in-process only; the
// scheduler does not send these events over any session.
type Observer func(protocol.FilePieceDownloadStatusResponse)

// Scheduler runs downloads against a shared state.State.
type Scheduler struct {
	log         *slog.Logger
	state       *state.State
	dialTimeout time.Duration
	sessionOpts session.Options
	ownAddress  string
	observer    Observer
}

// New constructs a Scheduler. ownAddress is this peer's own advertised
// address, excluded when gossiped peers are merged into state so a peer
// never adds itself to its own known-peer set. observer may be nil.
func New(st *state.State, dialTimeout time.Duration, sessionOpts session.Options, ownAddress string, observer Observer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:         log.With("component", "scheduler"),
		state:       st,
		dialTimeout: dialTimeout,
		sessionOpts: sessionOpts,
		ownAddress:  ownAddress,
		observer:    observer,
	}
}

// Download fetches every piece of fileID from its manifest's peer list
// and assembles it into the file store.
func (s *Scheduler) Download(ctx context.Context, fileID string) error {
	entry, err := s.state.Store().Get(fileID)
	if err != nil {
		return err
	}
	m := entry.Manifest
	n := m.PieceCount()

	s.state.Store().SetStatus(fileID, manifest.Downloading)

	sessions := s.connectAndRetrieveInfo(m.Peers)
	if len(sessions) == 0 {
		return fmt.Errorf("%w: no peer for %s could be connected", rfserr.ErrNoReachablePeers, fileID)
	}
	defer closeAll(sessions)

	if n == 0 {
		return s.assemble(fileID, m)
	}

	pings := make([]*uint64, len(sessions))
	for i, sess := range sessions {
		if info := sess.Info(); info != nil {
			micros := uint64(info.Ping.Microseconds())
			pings[i] = &micros
		}
	}

	allocation, err := Allocate(pings, n)
	if err != nil {
		return err
	}
	ranges := ContiguousRanges(allocation)

	pool := &sessionPool{sessions: append([]*session.Session(nil), sessions...)}

	var mu sync.Mutex
	var retryQueue []int

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		sess, r := sessions[i], r
		g.Go(func() error {
			for k := r.Start; k < r.End; k++ {
				if err := s.fetchAndStage(gctx, sess, m, k); err != nil {
					s.log.Warn("piece fetch failed, will retry elsewhere", "file_id", fileID, "piece", k, "error", err)
					mu.Lock()
					retryQueue = append(retryQueue, k)
					if session.IsRecoverable(err) {
						for rest := k + 1; rest < r.End; rest++ {
							retryQueue = append(retryQueue, rest)
						}
						pool.remove(sess)
						mu.Unlock()
						return nil
					}
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", rfserr.ErrIO, err)
	}

	for _, k := range retryQueue {
		if err := s.retryPiece(ctx, pool, m, k); err != nil {
			return err
		}
	}

	return s.assemble(fileID, m)
}

// assemble concatenates the staged pieces and, before marking the file
// Downloaded, reads the result back and verifies its whole-file hash
// against m.Hash. A mismatch fails the download and leaves the file
// NotDownloaded rather than trusting an unverified assembly.
func (s *Scheduler) assemble(fileID string, m manifest.Manifest) error {
	if err := s.state.Store().Assemble(fileID, m.Name, m.PieceCount()); err != nil {
		return err
	}

	content, err := s.state.Store().ReadFile(fileID)
	if err != nil {
		return err
	}
	if !m.VerifyWhole(content) {
		s.state.Store().SetStatus(fileID, manifest.NotDownloaded)
		return fmt.Errorf("%w: assembled whole-file hash mismatch for %s", rfserr.ErrPieceHashMismatch, fileID)
	}

	s.state.Store().SetStatus(fileID, manifest.Downloaded)
	return nil
}

// connectAndRetrieveInfo opens a session to every address concurrently.
// Addresses that fail to connect are skipped entirely, so reallocating
// across remaining sessions falls out naturally since only connected
// sessions ever enter the allocation. Sessions that
// connect but fail RetrieveInfo are retained with info == nil so their
// ping is treated as unusable in Allocate.
func (s *Scheduler) connectAndRetrieveInfo(addrs []string) []*session.Session {
	type result struct {
		sess *session.Session
	}

	results := make(chan result, len(addrs))
	for _, addr := range addrs {
		addr := addr
		go func() {
			sess, err := session.Connect(addr, s.dialTimeout, s.sessionOpts, s.log)
			if err != nil {
				s.log.Warn("scheduler failed to connect to peer", "address", addr, "error", err)
				results <- result{}
				return
			}

			if err := sess.RetrieveInfo(); err != nil {
				s.log.Warn("scheduler failed to retrieve info from peer", "address", addr, "error", err)
			} else {
				s.mergeGossip(sess.Info().KnownPeers)
			}
			results <- result{sess: sess}
		}()
	}

	sessions := make([]*session.Session, 0, len(addrs))
	for range addrs {
		if r := <-results; r.sess != nil {
			sessions = append(sessions, r.sess)
		}
	}
	return sessions
}

// mergeGossip ingests the known-peer set a peer reported in its
// InfoResponse. Each address (other than this peer's own) is added to
// the shared known-peer set with no ping yet; the liveness loop
// measures it on its next cycle.
func (s *Scheduler) mergeGossip(peers []protocol.KnownPeer) {
	for _, p := range peers {
		if p.Address == "" || p.Address == s.ownAddress {
			continue
		}
		s.state.AddKnownPeer(p.Address)
	}
}

// fetchAndStage fetches piece k on sess, verifies its hash against m,
// and stages it. A hash mismatch is reported as rfserr.ErrPieceHashMismatch
// without being treated as a session-level failure: sess is presumed
// still usable for subsequent pieces.
func (s *Scheduler) fetchAndStage(ctx context.Context, sess *session.Session, m manifest.Manifest, k int) error {
	s.notify(m.ID, k, protocol.StatusDownloading)

	resp, err := sess.GetFilePiece(m.ID, uint64(k))
	if err != nil {
		return err
	}

	if !m.VerifyPiece(k, resp.Content) {
		return fmt.Errorf("%w: piece %d of %s", rfserr.ErrPieceHashMismatch, k, m.ID)
	}

	if err := s.state.Store().SavePiece(m.ID, uint64(k), resp.Content); err != nil {
		return err
	}

	s.state.SetProgress(m.ID, uint64(k), protocol.StatusDownloaded)
	s.notify(m.ID, k, protocol.StatusDownloaded)
	return nil
}

func (s *Scheduler) notify(fileID string, piece int, status protocol.PieceStatus) {
	if s.observer == nil {
		return
	}
	s.observer(protocol.NewFilePieceDownloadStatusResponse(fileID, uint64(piece), status).Body.(protocol.FilePieceDownloadStatusResponse))
}

// retryPiece attempts piece k on each remaining session in pool in turn,
// using retry.Do for the per-session attempt budget. It fails
// rfserr.ErrPieceUnavailable once every session in the pool has been
// tried without success.
func (s *Scheduler) retryPiece(ctx context.Context, pool *sessionPool, m manifest.Manifest, k int) error {
	candidates := pool.snapshot()
	if len(candidates) == 0 {
		return fmt.Errorf("%w: piece %d of %s, no surviving sessions", rfserr.ErrPieceUnavailable, k, m.ID)
	}

	var lastErr error
	for _, sess := range candidates {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return s.fetchAndStage(ctx, sess, m, k)
		}, retry.WithMaxAttempts(2), retry.WithInitialDelay(50*time.Millisecond), retry.WithMaxDelay(500*time.Millisecond))
		if err == nil {
			return nil
		}
		lastErr = err
		if session.IsRecoverable(err) {
			pool.remove(sess)
		}
	}

	return fmt.Errorf("%w: piece %d of %s: %v", rfserr.ErrPieceUnavailable, k, m.ID, lastErr)
}

func closeAll(sessions []*session.Session) {
	for _, sess := range sessions {
		sess.Close()
	}
}

// sessionPool tracks the sessions still considered alive for retry
// purposes, guarded by a mutex since multiple worker goroutines may
// remove from it concurrently.
type sessionPool struct {
	mu       sync.Mutex
	sessions []*session.Session
}

func (p *sessionPool) remove(target *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sess := range p.sessions {
		if sess == target {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			return
		}
	}
}

func (p *sessionPool) snapshot() []*session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*session.Session(nil), p.sessions...)
}
