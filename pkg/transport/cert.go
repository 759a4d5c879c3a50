package transport

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"time"

	"github.com/robcohen/peervault/pkg/peverr"
)

// replicaKeySize mirrors a typical node certificate key size;
// PeerVault has no long-lived root CA to size up to 4096 bits, since
// every replica is its own self-signed issuer.
const replicaKeySize = 2048

const replicaCertValidity = 10 * 365 * 24 * time.Hour

// ReplicaIdentity is one vault replica's self-signed TLS identity,
// generated once and persisted under storage.KeyTransportKey by the
// embedder. There is no CA: peers pin each other's certificate
// fingerprint at pairing time instead of verifying a chain.
type ReplicaIdentity struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
	DER  []byte
}

// NewReplicaIdentity generates a fresh self-signed certificate for
// nodeID, grounded on a CertAuthority.Initialize self-signed-template
// shape, adapted from "one CA for the cluster" to "one self-signed
// leaf per replica".
func NewReplicaIdentity(nodeID string) (*ReplicaIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, replicaKeySize)
	if err != nil {
		return nil, peverr.Fatalf("generate replica key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, peverr.Fatalf("generate serial number: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"PeerVault"},
			CommonName:   nodeID,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(replicaCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, peverr.Fatalf("create self-signed certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, peverr.Fatalf("parse self-signed certificate: %v", err)
	}
	return &ReplicaIdentity{Key: key, Cert: cert, DER: der}, nil
}

// Fingerprint is the hex SHA-256 digest of the certificate, the value
// pinned in types.PeerRecord.CertFingerprint.
func (r *ReplicaIdentity) Fingerprint() string {
	sum := sha256.Sum256(r.DER)
	return encodeFingerprint(sum[:])
}

// Sign produces an RSA-PKCS1v15/SHA-256 signature over data, used to
// sign invite ticket payloads.
func (r *ReplicaIdentity) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, r.Key, crypto.SHA256, digest[:])
}

// GenerateInvite builds a signed invite ticket binding this replica's
// node id, reachable addresses, and certificate.
func (r *ReplicaIdentity) GenerateInvite(nodeID string, addresses []string) (string, error) {
	return signTicket(ticketPayload{NodeID: nodeID, Addresses: addresses, CertDER: r.DER}, r.Sign)
}

// persistedIdentity is ReplicaIdentity's on-disk shape under
// storage.KeyTransportKey: the DER certificate plus the PKCS1 private
// key, mirroring a CAData{RootCertDER, RootKeyDER}-style record.
type persistedIdentity struct {
	CertDER []byte `json:"certDer"`
	KeyDER  []byte `json:"keyDer"`
}

// MarshalJSON serializes the identity for storage under
// storage.KeyTransportKey, so a replica's node id and certificate
// fingerprint survive a restart instead of being regenerated (which
// would orphan every peer that pinned the old fingerprint).
func (r *ReplicaIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(persistedIdentity{
		CertDER: r.DER,
		KeyDER:  x509.MarshalPKCS1PrivateKey(r.Key),
	})
}

// LoadReplicaIdentity reverses MarshalJSON.
func LoadReplicaIdentity(data []byte) (*ReplicaIdentity, error) {
	var p persistedIdentity
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, peverr.MalformedWrap(err, "decode persisted replica identity")
	}
	cert, err := x509.ParseCertificate(p.CertDER)
	if err != nil {
		return nil, peverr.MalformedWrap(err, "parse persisted certificate")
	}
	key, err := x509.ParsePKCS1PrivateKey(p.KeyDER)
	if err != nil {
		return nil, peverr.MalformedWrap(err, "parse persisted private key")
	}
	return &ReplicaIdentity{Key: key, Cert: cert, DER: p.CertDER}, nil
}

func verifySignature(cert *x509.Certificate, data, sig []byte) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return peverr.Malformed("invite ticket certificate has an unsupported public key type")
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}
