// Package listener implements the accept loop (C6): binds a TCP
// listener on the peer's address and, for every accepted socket, spawns
// an independent task that reads frames and dispatches them against
// shared state.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
)

// Downloader starts (or continues) a local download of fileID. The
// listener runs it on a fresh goroutine per GetFile request so it never
// blocks other dispatches on the same or other sessions.
type Downloader func(ctx context.Context, fileID string)

// Listener accepts inbound sessions and dispatches their frames against
// shared state.
type Listener struct {
	log         *slog.Logger
	addr        string
	state       *state.State
	sessionOpts session.Options
	downloader  Downloader

	ln net.Listener
}

// New constructs a Listener bound to addr (not yet listening; call Run).
func New(addr string, st *state.State, sessionOpts session.Options, downloader Downloader, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		log:         log.With("component", "listener", "address", addr),
		addr:        addr,
		state:       st,
		sessionOpts: sessionOpts,
		downloader:  downloader,
	}
}

// Run binds the listener and accepts connections until ctx is canceled
// or Accept returns a non-recoverable error. Each accepted socket is
// dispatched on its own goroutine; a read error on one session
// terminates that goroutine only.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.log.Info("listening for inbound sessions")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.log.Warn("accept failed", "error", err)
			continue
		}

		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	sess := session.Accept(conn, l.sessionOpts, l.log)
	defer sess.Close()

	log := l.log.With("remote", sess.RemoteAddr())

	for {
		f, err := sess.ReadFrame()
		if err != nil {
			if !session.IsRecoverable(err) {
				log.Error("unrecoverable session error", "error", err)
			} else {
				log.Debug("session ended", "error", err)
			}
			return
		}

		if err := l.dispatch(ctx, sess, f); err != nil {
			log.Warn("dispatch failed", "kind", f.Kind, "error", err)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, sess *session.Session, f protocol.Frame) error {
	switch f.Kind {
	case protocol.KindGetPing:
		return sess.WriteFrame(protocol.NewPingResponse())

	case protocol.KindGetInfo:
		fileIDs := l.state.Store().FileIDs()
		knownPeers := l.state.AsProtocolKnownPeers()
		return sess.WriteFrame(protocol.NewInfoResponse(fileIDs, knownPeers))

	case protocol.KindGetFilePiece:
		body := f.Body.(protocol.GetFilePiece)
		content, err := l.state.Store().ReadPiece(body.FileID, body.Piece)
		if err != nil {
			return err
		}
		return sess.WriteFrame(protocol.NewFilePieceResponse(body.FileID, body.Piece, content))

	case protocol.KindGetFile:
		body := f.Body.(protocol.GetFile)
		if l.downloader != nil {
			go l.downloader(ctx, body.FileID)
		}
		return nil

	default:
		l.log.Warn("unexpected frame kind, ignoring", "kind", f.Kind)
		return nil
	}
}

// Addr returns the bound listener's address. Only valid after Run has
// started listening; intended for tests that bind to ":0".
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
