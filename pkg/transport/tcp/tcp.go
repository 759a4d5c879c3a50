package tcp

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/transport"
)

// maxFrameSize bounds a single Send/Recv payload, guarding against a
// malicious or corrupt length prefix exhausting memory.
const maxFrameSize = 64 << 20 // 64 MiB, comfortably above one blob-transfer chunk

// Transport is the TCP+TLS transport.Transport implementation.
type Transport struct {
	identity   *transport.ReplicaIdentity
	listenAddr string
	advertise  []string

	mu sync.Mutex
	ln net.Listener
}

// New creates a Transport for identity, listening on listenAddr and
// advertising advertise (typically listenAddr's host with the
// machine's reachable addresses) inside generated invite tickets.
func New(identity *transport.ReplicaIdentity, listenAddr string, advertise []string) *Transport {
	return &Transport{identity: identity, listenAddr: listenAddr, advertise: advertise}
}

func (t *Transport) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{{Certificate: [][]byte{t.identity.DER}, PrivateKey: t.identity.Key, Leaf: t.identity.Cert}},
		MinVersion:         tls.VersionTLS13,
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // no CA chain to verify; callers pin by fingerprint instead
	}
}

// Initialize opens the listening socket.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ln, err := tls.Listen("tcp", t.listenAddr, t.tlsConfig())
	if err != nil {
		return peverr.TransientWrap(err, "listen on %s", t.listenAddr)
	}
	t.ln = ln
	log.WithComponent("transport").Info().Str("addr", t.listenAddr).Msg("transport listening")
	return nil
}

// Shutdown closes the listening socket.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

// NodeID is this replica's certificate common name.
func (t *Transport) NodeID() string {
	return t.identity.Cert.Subject.CommonName
}

// ListenAddr returns the actual bound address, resolving a ":0" port
// picked by the OS at Initialize. Useful for advertising a concrete
// invite address when listenAddr requested an ephemeral port.
func (t *Transport) ListenAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return t.listenAddr
	}
	return t.ln.Addr().String()
}

// GenerateInvite issues a signed ticket binding this replica's node
// id, advertised addresses, and certificate.
func (t *Transport) GenerateInvite() (string, error) {
	return t.identity.GenerateInvite(t.NodeID(), t.advertise)
}

// Connect parses ticket, dials its first reachable address, and
// performs a mutually authenticated TLS handshake, pinning the
// remote certificate's fingerprint against the one embedded in ticket.
func (t *Transport) Connect(ctx context.Context, ticket string) (transport.Stream, error) {
	parsed, err := transport.ParseTicket(ticket)
	if err != nil {
		return nil, err
	}
	if len(parsed.Addresses) == 0 {
		return nil, peverr.Malformed("invite ticket has no addresses")
	}

	var lastErr error
	for _, addr := range parsed.Addresses {
		dialer := &tls.Dialer{Config: t.tlsConfig()}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			_ = conn.Close()
			lastErr = peverr.Fatalf("dialer returned a non-TLS connection")
			continue
		}
		fp, err := peerFingerprint(ctx, tlsConn)
		if err != nil {
			_ = conn.Close()
			lastErr = err
			continue
		}
		if fp != parsed.Fingerprint {
			_ = conn.Close()
			return nil, peverr.Integrity("peer at %s presented fingerprint %s, ticket expects %s", addr, fp, parsed.Fingerprint)
		}
		return &stream{conn: tlsConn, fingerprint: fp}, nil
	}
	return nil, peverr.TransientWrap(lastErr, "connect to any address in invite ticket")
}

// Accept waits for an inbound connection and completes its TLS
// handshake. The caller (PeerManager) is responsible for checking the
// returned stream's fingerprint against its roster.
func (t *Transport) Accept(ctx context.Context) (transport.Stream, error) {
	t.mu.Lock()
	ln := t.ln
	t.mu.Unlock()
	if ln == nil {
		return nil, peverr.Fatalf("transport not initialized")
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, peverr.Cancel()
	case r := <-ch:
		if r.err != nil {
			return nil, peverr.TransientWrap(r.err, "accept connection")
		}
		tlsConn, ok := r.conn.(*tls.Conn)
		if !ok {
			_ = r.conn.Close()
			return nil, peverr.Fatalf("listener returned a non-TLS connection")
		}
		fp, err := peerFingerprint(ctx, tlsConn)
		if err != nil {
			_ = tlsConn.Close()
			return nil, err
		}
		return &stream{conn: tlsConn, fingerprint: fp}, nil
	}
}

func peerFingerprint(ctx context.Context, conn *tls.Conn) (string, error) {
	if err := conn.HandshakeContext(ctx); err != nil {
		return "", peverr.TransientWrap(err, "TLS handshake")
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", peverr.Malformed("peer presented no certificate")
	}
	return transport.FingerprintOf(state.PeerCertificates[0]), nil
}

// stream implements transport.FingerprintedStream over a TLS
// connection, self-length-prefixing each Send so Recv returns exactly
// the bytes one Send wrote (TCP itself has no message boundaries).
type stream struct {
	mu          sync.Mutex
	conn        *tls.Conn
	fingerprint string
}

func (s *stream) Send(ctx context.Context, b []byte) error {
	if len(b) > maxFrameSize {
		return peverr.Malformed("frame of %d bytes exceeds max %d", len(b), maxFrameSize)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := s.conn.Write(header[:]); err != nil {
		return peverr.Transientf("write frame header: %v", err)
	}
	if _, err := s.conn.Write(b); err != nil {
		return peverr.Transientf("write frame payload: %v", err)
	}
	return nil
}

func (s *stream) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}
	var header [4]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return nil, peverr.Transientf("read frame header: %v", err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, peverr.Malformed("frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return nil, peverr.Transientf("read frame payload: %v", err)
	}
	return buf, nil
}

func (s *stream) Close() error {
	return s.conn.Close()
}

func (s *stream) PeerCertFingerprint() string {
	return s.fingerprint
}
