package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"github.com/robcohen/peervault/pkg/peverr"
)

// envelopeMagic is the 4-byte prefix distinguishing a wrapped (AEAD
// envelope) value from legacy plaintext, per spec §6.1.
var envelopeMagic = [4]byte{'P', 'V', 'E', '1'}

// Standard AES-GCM nonces are 12 bytes. Spec §6.1 reserves a 24-byte
// nonce field in the envelope layout for a future wider-nonce AEAD
// (e.g. XChaCha20-Poly1305); until that algorithm is wired in we
// zero-pad a 12-byte GCM nonce into that field rather than bump the
// envelope version, see DESIGN.md.
const (
	nonceFieldSize = 24
	gcmNonceSize   = 12
	tagSize        = 16
)

// KeySize is the required symmetric key length (AES-256).
const KeySize = 32

// Envelope wraps plaintext in the fixed AEAD envelope:
// magic(4) || nonce(24, GCM's 12 bytes zero-padded) || ciphertext || tag(16).
func Envelope(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, peverr.Fatalf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, peverr.IntegrityWrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, peverr.IntegrityWrap(err, "create GCM")
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, peverr.TransientWrap(err, "generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 4+nonceFieldSize+len(sealed))
	out = append(out, envelopeMagic[:]...)
	paddedNonce := make([]byte, nonceFieldSize)
	copy(paddedNonce, nonce)
	out = append(out, paddedNonce...)
	out = append(out, sealed...)
	return out, nil
}

// IsEnvelope reports whether data begins with the envelope magic
// prefix; EncryptedStorage uses this to pass legacy plaintext through
// Read unchanged.
func IsEnvelope(data []byte) bool {
	if len(data) < len(envelopeMagic) {
		return false
	}
	return subtle.ConstantTimeCompare(data[:len(envelopeMagic)], envelopeMagic[:]) == 1
}

// Open reverses Envelope. Returns peverr.IntegrityFailure on MAC
// mismatch, matching the "decrypt returns DecryptFailed on MAC
// mismatch" failure mode in spec §4.3, and peverr.MalformedInput when
// data lacks the envelope prefix or is truncated before the nonce.
func Open(key, data []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, peverr.Fatalf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	if !IsEnvelope(data) {
		return nil, peverr.Malformed("data is not a PeerVault AEAD envelope")
	}
	rest := data[len(envelopeMagic):]
	if len(rest) < nonceFieldSize {
		return nil, peverr.Malformed("envelope truncated before nonce field")
	}
	nonce := rest[:gcmNonceSize]
	ciphertext := rest[nonceFieldSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, peverr.IntegrityWrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, peverr.IntegrityWrap(err, "create GCM")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, peverr.IntegrityWrap(err, "AEAD authentication failed")
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte symmetric key from a user passphrase
// (a single SHA-256 of it). cmd/peervault does not use it: it
// generates its vault encryption key randomly and keeps it in a
// vault.key file beside the database.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// GenerateKey returns a fresh random 32-byte key suitable for
// EncryptedStorage. The transport's identity uses an RSA key from
// pkg/transport instead.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, peverr.TransientWrap(err, "generate key")
	}
	return key, nil
}
