/*
Package security implements the AEAD envelope used by
storage.EncryptedStorage: Envelope/Open wrap and unwrap a value with
AES-256-GCM behind the fixed magic-prefixed layout from spec §6.1, and
IsEnvelope lets the wrapper distinguish ciphertext from legacy
plaintext so reads stay transparent across an encryption toggle.

Certificate-based peer identity (self-signed certs and fingerprint
pinning used by the transport's mTLS handshake) lives in pkg/transport,
not here — there is no certificate authority in PeerVault's leaderless
peer mesh, only the symmetric vault key this package protects.
*/
package security
