// Package transport defines the Transport/Stream contract PeerManager
// dials and accepts through and SyncSession drives its wire protocol
// over, plus replica identity generation and invite ticket
// signing/parsing (cert.go, transport.go). Concrete transports, such
// as pkg/transport/tcp's mutually authenticated TLS implementation,
// live in subpackages so this package carries no networking
// dependency of its own.
package transport
