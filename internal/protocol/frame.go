// Package protocol implements the peer's wire codec: a u64be length
// prefix followed by a CBOR map tagged by a "kind" field selecting one of
// a fixed set of frame variants.
package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/distfs/rfspeer/internal/rfserr"
)

// Kind discriminates the CBOR-encoded body of a Frame.
type Kind string

const (
	KindGetInfo                         Kind = "GetInfo"
	KindInfoResponse                    Kind = "InfoResponse"
	KindGetPing                         Kind = "GetPing"
	KindPingResponse                    Kind = "PingResponse"
	KindGetFilePiece                    Kind = "GetFilePiece"
	KindFilePieceResponse               Kind = "FilePieceResponse"
	KindGetFile                         Kind = "GetFile"
	KindFilePieceDownloadStatusResponse Kind = "FilePieceDownloadStatusResponse"
)

// PieceStatus is the download status of a single piece, as reported by
// FilePieceDownloadStatusResponse.
type PieceStatus string

const (
	StatusNotDownloaded PieceStatus = "NotDownloaded"
	StatusDownloading   PieceStatus = "Downloading"
	StatusDownloaded    PieceStatus = "Downloaded"
)

// KnownPeer is one entry of InfoResponse.KnownPeers: an address and its
// most recently measured ping, in microseconds, or nil if unreachable.
type KnownPeer struct {
	Address string  `cbor:"address"`
	Ping    *uint64 `cbor:"ping,omitempty"`
}

type GetInfo struct{}

type InfoResponse struct {
	FileIDs    []string    `cbor:"file_ids"`
	KnownPeers []KnownPeer `cbor:"known_peers"`
}

type GetPing struct{}

type PingResponse struct{}

type GetFilePiece struct {
	FileID string `cbor:"file_id"`
	Piece  uint64 `cbor:"piece"`
}

type FilePieceResponse struct {
	FileID  string `cbor:"file_id"`
	Piece   uint64 `cbor:"piece"`
	Content []byte `cbor:"content"`
}

// PieceID returns the staging-directory key "{file_id}:{piece}" for this
// response's piece.
func (r FilePieceResponse) PieceID() string {
	return fmt.Sprintf("%s:%d", r.FileID, r.Piece)
}

type GetFile struct {
	FileID string `cbor:"file_id"`
}

type FilePieceDownloadStatusResponse struct {
	FileID string      `cbor:"file_id"`
	Piece  uint64      `cbor:"piece"`
	Status PieceStatus `cbor:"status"`
}

// Frame pairs a Kind with its decoded body. Body is one of the frame
// struct types above; callers type-switch on it after a successful
// Decode, or inspect Kind directly.
type Frame struct {
	Kind Kind
	Body any
}

type envelope struct {
	Kind Kind            `cbor:"kind"`
	Body cbor.RawMessage `cbor:"body"`
}

// Encode serializes f to its CBOR body representation (without the
// length prefix; see Session.WriteFrame for that).
func Encode(f Frame) ([]byte, error) {
	body, err := cbor.Marshal(f.Body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode body: %w", err)
	}

	b, err := cbor.Marshal(envelope{Kind: f.Kind, Body: body})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}

	return b, nil
}

// Decode parses b (a single CBOR body, length prefix already stripped)
// into a Frame. An unknown or malformed kind fails with
// rfserr.ErrMalformedFrame.
func Decode(b []byte) (Frame, error) {
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", rfserr.ErrMalformedFrame, err)
	}

	body, err := decodeBody(env.Kind, env.Body)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Kind: env.Kind, Body: body}, nil
}

func decodeBody(kind Kind, raw cbor.RawMessage) (any, error) {
	var (
		body any
		err  error
	)

	switch kind {
	case KindGetInfo:
		var v GetInfo
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindInfoResponse:
		var v InfoResponse
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindGetPing:
		var v GetPing
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindPingResponse:
		var v PingResponse
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindGetFilePiece:
		var v GetFilePiece
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindFilePieceResponse:
		var v FilePieceResponse
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindGetFile:
		var v GetFile
		err = cbor.Unmarshal(raw, &v)
		body = v
	case KindFilePieceDownloadStatusResponse:
		var v FilePieceDownloadStatusResponse
		err = cbor.Unmarshal(raw, &v)
		body = v
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", rfserr.ErrMalformedFrame, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s body: %v", rfserr.ErrMalformedFrame, kind, err)
	}

	return body, nil
}

// Convenience constructors keep call sites (session, listener, scheduler)
// free of envelope bookkeeping.

func NewGetInfo() Frame { return Frame{Kind: KindGetInfo, Body: GetInfo{}} }

func NewInfoResponse(fileIDs []string, knownPeers []KnownPeer) Frame {
	return Frame{Kind: KindInfoResponse, Body: InfoResponse{FileIDs: fileIDs, KnownPeers: knownPeers}}
}

func NewGetPing() Frame { return Frame{Kind: KindGetPing, Body: GetPing{}} }

func NewPingResponse() Frame { return Frame{Kind: KindPingResponse, Body: PingResponse{}} }

func NewGetFilePiece(fileID string, piece uint64) Frame {
	return Frame{Kind: KindGetFilePiece, Body: GetFilePiece{FileID: fileID, Piece: piece}}
}

func NewFilePieceResponse(fileID string, piece uint64, content []byte) Frame {
	return Frame{Kind: KindFilePieceResponse, Body: FilePieceResponse{FileID: fileID, Piece: piece, Content: content}}
}

func NewGetFile(fileID string) Frame {
	return Frame{Kind: KindGetFile, Body: GetFile{FileID: fileID}}
}

func NewFilePieceDownloadStatusResponse(fileID string, piece uint64, status PieceStatus) Frame {
	return Frame{
		Kind: KindFilePieceDownloadStatusResponse,
		Body: FilePieceDownloadStatusResponse{FileID: fileID, Piece: piece, Status: status},
	}
}
