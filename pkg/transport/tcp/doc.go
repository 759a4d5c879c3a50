// Package tcp implements transport.Transport over mutually
// authenticated TLS 1.3, grounded on a mutual-TLS gRPC server's
// mTLS setup (tls.Config, RequestClientCert) and pkg/security/ca.go
// certificate handling, adapted from "one CA issuing per-node certs"
// to "one self-signed cert per replica, pinned by fingerprint after
// pairing" since a vault has no central authority to anchor a chain.
//
// Trust is established once, out of band, via the invite ticket: it
// carries the issuer's full certificate and a signature proving
// possession of the matching key. Every later connection skips chain
// verification entirely and instead compares the peer's presented
// certificate fingerprint against the one pinned at pairing time.
package tcp
