package syncsession

import (
	"encoding/json"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/types"
)

// Kind is the one-byte frame discriminator carried after the
// transport's own length prefix (pkg/transport/tcp owns the uint32
// length; a frame here is just kind || payload).
type Kind byte

const (
	KindHandshake Kind = iota
	KindSyncRequest
	KindSyncResponse
	KindUpdate
	KindAck
	KindBlobRequest
	KindBlobHave
	KindBlobTransfer
	KindBlobAck
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindSyncRequest:
		return "sync-request"
	case KindSyncResponse:
		return "sync-response"
	case KindUpdate:
		return "update"
	case KindAck:
		return "ack"
	case KindBlobRequest:
		return "blob-request"
	case KindBlobHave:
		return "blob-have"
	case KindBlobTransfer:
		return "blob-transfer"
	case KindBlobAck:
		return "blob-ack"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// protocolVersion is the handshake's major version. Peers with a
// different value are incompatible and the session aborts.
const protocolVersion = 1

type handshakePayload struct {
	ProtocolVersion int                 `json:"protocolVersion"`
	PeerID          string              `json:"peerId"`
	VaultID         string              `json:"vaultId"`
	Hostname        string              `json:"hostname,omitempty"`
	Nickname        string              `json:"nickname,omitempty"`
	VersionVector   types.VersionVector `json:"versionVector"`
}

type syncRequestPayload struct {
	VersionVector types.VersionVector `json:"versionVector"`
}

type syncResponsePayload struct {
	Updates       []byte              `json:"updates"`
	VersionVector types.VersionVector `json:"versionVector"`
}

type updatePayload struct {
	Data []byte `json:"data"`
}

type ackPayload struct {
	VersionVector types.VersionVector `json:"versionVector"`
}

type blobRequestPayload struct {
	Hashes []string `json:"hashes"`
}

type blobHavePayload struct {
	Available []string `json:"available"`
	Missing   []string `json:"missing"`
}

type blobTransferPayload struct {
	Hash   string `json:"hash"`
	Data   []byte `json:"data"`
	Offset int64  `json:"offset"`
	Total  int64  `json:"total"`
}

type blobAckPayload struct {
	Hash     string `json:"hash"`
	Received bool   `json:"received"`
}

// errorCode enumerates the few error conditions a frame itself can
// name; anything else maps to peverr's richer Kind on the receiving end.
type errorCode string

const (
	errCodeVaultMismatch errorCode = "VaultMismatch"
	errCodeIncompatible  errorCode = "Incompatible"
	errCodeMalformed     errorCode = "Malformed"
)

type errorPayload struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// encodeFrame marshals payload to JSON and prefixes it with kind,
// producing the bytes handed to transport.Stream.Send.
func encodeFrame(kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, peverr.Fatalf("marshal %s frame: %v", kind, err)
	}
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out, nil
}

// decodeFrame splits raw transport bytes into a Kind and its raw JSON
// payload, ready for a kind-specific unmarshal.
func decodeFrame(raw []byte) (Kind, []byte, error) {
	if len(raw) < 1 {
		return 0, nil, peverr.Malformed("frame shorter than one byte")
	}
	return Kind(raw[0]), raw[1:], nil
}

func unmarshalPayload(kind Kind, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return peverr.MalformedWrap(err, "unmarshal %s payload", kind)
	}
	return nil
}
