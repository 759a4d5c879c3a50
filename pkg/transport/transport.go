// Package transport defines the narrow Transport/Stream contract
// SyncSession drives, plus invite ticket generation and parsing. The
// concrete TLS implementation lives in pkg/transport/tcp; this
// package stays transport-agnostic so a test double can stand in for
// it in unit tests.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"unicode"

	"github.com/robcohen/peervault/pkg/peverr"
)

// maxTicketLen bounds an invite ticket's encoded length, per spec §6.3.
const maxTicketLen = 4096

// Transport is the collaborator contract PeerManager dials and accepts
// connections through; a SyncSession only drives the resulting Stream.
type Transport interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	NodeID() string
	Connect(ctx context.Context, ticket string) (Stream, error)
	Accept(ctx context.Context) (Stream, error)
	GenerateInvite() (string, error)
}

// Stream is a bidirectional, ordered, byte-preserving channel.
type Stream interface {
	Send(ctx context.Context, b []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// FingerprintedStream is satisfied by Streams that can report the
// SHA-256 fingerprint of the certificate the remote end presented,
// which PeerManager pins against the roster after pairing.
type FingerprintedStream interface {
	Stream
	PeerCertFingerprint() string
}

// ticketPayload is the ASCII-printable, length-bounded envelope
// carried by an invite ticket: the issuer's node id, its reachable
// addresses, and its self-signed certificate (DER), so the recipient
// can both verify the accompanying signature and pin the exact
// certificate for subsequent connections.
type ticketPayload struct {
	NodeID    string   `json:"nodeId"`
	Addresses []string `json:"addresses"`
	CertDER   []byte   `json:"certDer"`
}

type signedTicket struct {
	Payload   ticketPayload `json:"payload"`
	Signature []byte        `json:"signature"`
}

// ParsedTicket is what ParseTicket returns on success.
type ParsedTicket struct {
	NodeID      string
	Addresses   []string
	Fingerprint string // hex SHA-256 of the issuer's certificate
}

// signTicket encodes payload, signs it with signer (typically the
// transport's own self-signed cert's private key), and returns the
// base64 ASCII ticket string.
func signTicket(payload ticketPayload, sign func([]byte) ([]byte, error)) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", peverr.Fatalf("marshal invite payload: %v", err)
	}
	sig, err := sign(payloadBytes)
	if err != nil {
		return "", peverr.Fatalf("sign invite payload: %v", err)
	}
	full, err := json.Marshal(signedTicket{Payload: payload, Signature: sig})
	if err != nil {
		return "", peverr.Fatalf("marshal invite ticket: %v", err)
	}
	ticket := base64.StdEncoding.EncodeToString(full)
	if len(ticket) > maxTicketLen {
		return "", peverr.Fatalf("invite ticket exceeds %d bytes", maxTicketLen)
	}
	return ticket, nil
}

// ParseTicket validates and decodes an invite ticket, verifying its
// signature against the embedded certificate's public key. Validation
// mirrors spec §6.3: non-empty, printable, length <= 4096.
func ParseTicket(ticket string) (ParsedTicket, error) {
	if ticket == "" {
		return ParsedTicket{}, peverr.Malformed("invite ticket is empty")
	}
	if len(ticket) > maxTicketLen {
		return ParsedTicket{}, peverr.Malformed("invite ticket exceeds %d bytes", maxTicketLen)
	}
	for _, r := range ticket {
		if !unicode.IsPrint(r) {
			return ParsedTicket{}, peverr.Malformed("invite ticket contains non-printable characters")
		}
	}

	raw, err := base64.StdEncoding.DecodeString(ticket)
	if err != nil {
		return ParsedTicket{}, peverr.MalformedWrap(err, "decode invite ticket")
	}
	var st signedTicket
	if err := json.Unmarshal(raw, &st); err != nil {
		return ParsedTicket{}, peverr.MalformedWrap(err, "unmarshal invite ticket")
	}
	if st.Payload.NodeID == "" || len(st.Payload.Addresses) == 0 {
		return ParsedTicket{}, peverr.Malformed("invite ticket missing nodeId or addresses")
	}

	cert, err := x509.ParseCertificate(st.Payload.CertDER)
	if err != nil {
		return ParsedTicket{}, peverr.MalformedWrap(err, "parse invite ticket certificate")
	}
	payloadBytes, err := json.Marshal(st.Payload)
	if err != nil {
		return ParsedTicket{}, peverr.MalformedWrap(err, "remarshal invite payload")
	}
	if err := verifySignature(cert, payloadBytes, st.Signature); err != nil {
		return ParsedTicket{}, peverr.MalformedWrap(err, "invite ticket signature verification failed")
	}

	fp := sha256.Sum256(st.Payload.CertDER)
	return ParsedTicket{
		NodeID:      st.Payload.NodeID,
		Addresses:   st.Payload.Addresses,
		Fingerprint: encodeFingerprint(fp[:]),
	}, nil
}

// FingerprintOf returns the hex SHA-256 digest of cert's raw DER
// bytes, the same value embedded in invite tickets and pinned in
// types.PeerRecord.CertFingerprint.
func FingerprintOf(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return encodeFingerprint(sum[:])
}

func encodeFingerprint(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
