/*
Package storage provides the flat byte-keyed persistence layer: the
Adapter interface, a BoltDB-backed implementation (BoltAdapter), and a
transparent AEAD wrapper (EncryptedStorage) that any Adapter can be
layered under.

Unlike a typical resource-store package with one bucket per entity
type, every value here lives in a single namespace keyed exactly as
spec §6.1 describes (peervault-snapshot, blob/<hash>, blob-meta/<hash>,
peervault-migration-backup-<v>/<key>, ...). Callers that need
structure build it into the key, not the storage layer.
*/
package storage
