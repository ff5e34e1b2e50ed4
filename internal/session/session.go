// Package session wraps one TCP connection carrying length-prefixed
// CBOR-tagged frames (see internal/protocol) in the Connected/
// InfoRetrieved state machine described by the peer wire protocol.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/distfs/rfspeer/internal/protocol"
	"github.com/distfs/rfspeer/internal/rfserr"
)

// State is the session's position in the Connected -> InfoRetrieved
// state machine. There is no terminal state other than drop-on-close or
// drop-on-error.
type State int

const (
	Connected State = iota
	InfoRetrieved
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case InfoRetrieved:
		return "info-retrieved"
	default:
		return "unknown"
	}
}

// Info is the snapshot populated by RetrieveInfo: the measured round
// trip, the peer's file ids, and the peer's own known-peer set.
type Info struct {
	Ping       time.Duration
	FileIDs    []string
	KnownPeers []protocol.KnownPeer
}

// Session owns exactly one socket and its read buffer. WriteFrame and
// ReadFrame take no lock; the request/response helpers (Ping,
// RetrieveInfo, GetFilePiece) and GetFile hold the session mutex, and
// the request/response helpers hold it for the full round trip,
// which is what keeps overlapping requests on one session from
// mis-routing responses (see the design note on correlation-free
// framing).
type Session struct {
	conn         net.Conn
	log          *slog.Logger
	maxFrameSize uint64
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	state State
	info  *Info
}

// Options configures timeouts and frame limits for a Session. Zero
// values disable the corresponding deadline/limit.
type Options struct {
	MaxFrameSize uint64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connect dials addr and wraps the resulting socket. dialTimeout bounds
// the dial only; Options.ReadTimeout/WriteTimeout bound subsequent
// frame I/O.
func Connect(addr string, dialTimeout time.Duration, opts Options, log *slog.Logger) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", rfserr.ErrConnectFailed, addr, err)
	}

	return newSession(conn, opts, log), nil
}

// Accept wraps an already-accepted inbound socket.
func Accept(conn net.Conn, opts Options, log *slog.Logger) *Session {
	return newSession(conn, opts, log)
}

func newSession(conn net.Conn, opts Options, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:         conn,
		log:          log.With("component", "session", "remote", conn.RemoteAddr().String()),
		maxFrameSize: opts.MaxFrameSize,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		state:        Connected,
	}
}

// RemoteAddr returns the underlying connection's remote address string.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the snapshot populated by the last successful
// RetrieveInfo call, or nil if none has succeeded yet.
func (s *Session) Info() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Close closes the underlying socket.
func (s *Session) Close() error {
	return s.conn.Close()
}

// ReadFrame consumes exactly one framed message, applying the session's
// configured read deadline. It does not take the write mutex: callers
// that also write on this session (the listener dispatch loop, for
// instance) own their own serialization.
func (s *Session) ReadFrame() (protocol.Frame, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return protocol.Frame{}, fmt.Errorf("%w: setting read deadline: %v", rfserr.ErrIO, err)
		}
	}

	return protocol.ReadFrame(s.conn, s.maxFrameSize)
}

// WriteFrame emits exactly one framed message. Concurrent callers on the
// same session must serialize their own calls; this method alone does
// not block other writers.
func (s *Session) WriteFrame(f protocol.Frame) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("%w: setting write deadline: %v", rfserr.ErrIO, err)
		}
	}

	return protocol.WriteFrame(s.conn, f)
}

// request writes f under the session's write mutex, then reads frames
// until match returns true for one, returning that frame. Non-matching
// frames are logged and skipped, per the GetFilePiece contract in the
// wire protocol.
func (s *Session) request(f protocol.Frame, match func(protocol.Frame) bool) (protocol.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.WriteFrame(f); err != nil {
		return protocol.Frame{}, err
	}

	for {
		resp, err := s.ReadFrame()
		if err != nil {
			return protocol.Frame{}, err
		}
		if match(resp) {
			return resp, nil
		}
		s.log.Warn("discarding unexpected frame while awaiting response", "want_for", f.Kind, "got", resp.Kind)
	}
}

// Ping issues GetPing and returns the round-trip duration until
// PingResponse arrives.
func (s *Session) Ping() (time.Duration, error) {
	start := time.Now()
	_, err := s.request(protocol.NewGetPing(), func(f protocol.Frame) bool {
		return f.Kind == protocol.KindPingResponse
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// RetrieveInfo requires state == Connected. It posts GetInfo, awaits
// InfoResponse, then pings, populating Info and advancing state to
// InfoRetrieved on success.
func (s *Session) RetrieveInfo() error {
	if s.State() != Connected {
		return fmt.Errorf("%w: retrieve_info requires Connected state, got %s", rfserr.ErrUnexpectedFrame, s.State())
	}

	resp, err := s.request(protocol.NewGetInfo(), func(f protocol.Frame) bool {
		return f.Kind == protocol.KindInfoResponse
	})
	if err != nil {
		return err
	}
	body, ok := resp.Body.(protocol.InfoResponse)
	if !ok {
		return fmt.Errorf("%w: expected InfoResponse body", rfserr.ErrMalformedFrame)
	}

	ping, err := s.Ping()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.info = &Info{Ping: ping, FileIDs: body.FileIDs, KnownPeers: body.KnownPeers}
	s.state = InfoRetrieved
	s.mu.Unlock()

	return nil
}

// GetFilePiece posts GetFilePiece and consumes frames until a matching
// FilePieceResponse for the same file/piece arrives.
func (s *Session) GetFilePiece(fileID string, piece uint64) (protocol.FilePieceResponse, error) {
	resp, err := s.request(protocol.NewGetFilePiece(fileID, piece), func(f protocol.Frame) bool {
		body, ok := f.Body.(protocol.FilePieceResponse)
		return ok && body.FileID == fileID && body.Piece == piece
	})
	if err != nil {
		return protocol.FilePieceResponse{}, err
	}

	return resp.Body.(protocol.FilePieceResponse), nil
}

// GetFile posts GetFile, instructing the remote peer to begin pulling
// fileID from its own peer list. It does not await a response. The
// listener in this module answers GetFile with no frame: it starts the
// download in the background and sends no FilePieceDownloadStatusResponse
// frames back on this session.
func (s *Session) GetFile(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WriteFrame(protocol.NewGetFile(fileID))
}

// IsRecoverable reports whether err represents a per-session failure
// that should terminate only this session, as opposed to a programming
// error. It exists so listener/scheduler callers can decide whether to
// log-and-continue or propagate.
func IsRecoverable(err error) bool {
	return errors.Is(err, rfserr.ErrPeerClosed) ||
		errors.Is(err, rfserr.ErrFrameTooLarge) ||
		errors.Is(err, rfserr.ErrMalformedFrame) ||
		errors.Is(err, rfserr.ErrIO) ||
		errors.Is(err, rfserr.ErrUnexpectedFrame)
}
