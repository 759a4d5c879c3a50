// Package storage implements the flat byte-keyed persistence layer
// every other PeerVault component builds on, plus the transparent AEAD
// wrapper (EncryptedStorage) that sits in front of it.
package storage

import (
	"context"
	"strconv"
)

// Adapter is the narrow persistent-map contract every component reads
// and writes through. Keys are a single flat string namespace (see
// the key layout documented on BoltAdapter); no bucketing or
// resource-type segregation happens above this layer.
type Adapter interface {
	// Read returns peverr.ErrNotFound itself (not wrapped) if key is absent.
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Well-known keys, per the external storage key layout.
const (
	KeySnapshot      = "peervault-snapshot"
	KeySchemaVersion = "peervault-schema-version"
	KeyPeers         = "peervault-peers"
	KeyTransportKey  = "peervault-transport-key"
)

// MigrationBackupPrefix returns the backup key prefix for a migration
// targeting toVersion, under which every original key is copied before
// that migration runs.
func MigrationBackupPrefix(toVersion int) string {
	return "peervault-migration-backup-" + strconv.Itoa(toVersion) + "/"
}

// BlobKey and BlobMetaKey derive the sibling storage keys for a blob's
// bytes and its metadata record, keyed by its hex content hash.
func BlobKey(hexHash string) string     { return "blob/" + hexHash }
func BlobMetaKey(hexHash string) string { return "blob-meta/" + hexHash }
