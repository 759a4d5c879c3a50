// Package blobstore implements content-addressed binary storage:
// bytes are keyed by their SHA-256 hash, deduplicated via reference
// counting, and verified on every read path that matters.
package blobstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/storage"
	"github.com/robcohen/peervault/pkg/types"
)

// Store is the content-addressed blob store (spec §4.2).
type Store struct {
	adapter storage.Adapter
}

// New creates a Store over the given storage adapter. Callers
// typically pass the same (possibly encrypted) adapter DocumentManager
// uses, since blob bytes and metadata share the flat key namespace.
func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

// ComputeHash returns the lowercase hex SHA-256 digest of data.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Add writes bytes if new and always increments refCount, returning
// the content hash.
func (s *Store) Add(ctx context.Context, data []byte, mimeType string) (string, error) {
	hash := ComputeHash(data)
	if err := s.addWithHash(ctx, hash, data, mimeType); err != nil {
		return "", err
	}
	return hash, nil
}

// VerifyAndAdd hashes data, compares against expectedHash in constant
// time, and rejects on mismatch with an IntegrityFailure; otherwise
// behaves as Add.
func (s *Store) VerifyAndAdd(ctx context.Context, data []byte, expectedHash, mimeType string) (bool, error) {
	actual := ComputeHash(data)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) != 1 {
		return false, peverr.Integrity("blob hash mismatch: expected %s got %s", expectedHash, actual)
	}
	if err := s.addWithHash(ctx, expectedHash, data, mimeType); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) addWithHash(ctx context.Context, hash string, data []byte, mimeType string) error {
	meta, err := s.getMeta(ctx, hash)
	if err != nil && err != peverr.ErrNotFound {
		return err
	}
	if meta == nil {
		// bytes first, then metadata: readers treat metadata as the
		// commit point, so a crash between these writes just leaves
		// unreferenced bytes, never a dangling metadata pointer.
		if err := s.adapter.Write(ctx, storage.BlobKey(hash), data); err != nil {
			return err
		}
		meta = &types.BlobMeta{
			Hash:      hash,
			Size:      int64(len(data)),
			MimeType:  mimeType,
			CreatedAt: time.Now(),
			RefCount:  0,
		}
	}
	meta.RefCount++
	return s.putMeta(ctx, meta)
}

// Get returns the blob bytes for hash, or peverr.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	return s.adapter.Read(ctx, storage.BlobKey(hash))
}

// Has reports whether hash is present locally.
func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	return s.adapter.Exists(ctx, storage.BlobKey(hash))
}

// GetMeta returns the metadata record for hash, or peverr.ErrNotFound.
func (s *Store) GetMeta(ctx context.Context, hash string) (*types.BlobMeta, error) {
	meta, err := s.getMeta(ctx, hash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, peverr.ErrNotFound
	}
	return meta, nil
}

func (s *Store) getMeta(ctx context.Context, hash string) (*types.BlobMeta, error) {
	raw, err := s.adapter.Read(ctx, storage.BlobMetaKey(hash))
	if err == peverr.ErrNotFound {
		return nil, peverr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta types.BlobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, peverr.MalformedWrap(err, "decode blob metadata for %s", hash)
	}
	return &meta, nil
}

func (s *Store) putMeta(ctx context.Context, meta *types.BlobMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return peverr.MalformedWrap(err, "encode blob metadata")
	}
	return s.adapter.Write(ctx, storage.BlobMetaKey(meta.Hash), raw)
}

// Release decrements refCount; when it reaches zero, bytes are deleted
// first and metadata second, so a crash between the two leaves a
// recoverable inconsistency (orphan metadata with no bytes) rather
// than a dangling pointer.
func (s *Store) Release(ctx context.Context, hash string) error {
	meta, err := s.getMeta(ctx, hash)
	if err == peverr.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	meta.RefCount--
	if meta.RefCount > 0 {
		return s.putMeta(ctx, meta)
	}
	if err := s.adapter.Delete(ctx, storage.BlobKey(hash)); err != nil {
		return err
	}
	return s.adapter.Delete(ctx, storage.BlobMetaKey(hash))
}

// List returns every blob hash currently known to this store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.adapter.List(ctx, "blob-meta/")
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(keys))
	const prefix = "blob-meta/"
	for _, k := range keys {
		hashes = append(hashes, k[len(prefix):])
	}
	return hashes, nil
}

// GetTotalSize sums the recorded size of every blob.
func (s *Store) GetTotalSize(ctx context.Context) (int64, error) {
	hashes, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, h := range hashes {
		meta, err := s.getMeta(ctx, h)
		if err != nil {
			continue
		}
		total += meta.Size
	}
	return total, nil
}

// GetMissing returns the subset of hashes not present locally.
func (s *Store) GetMissing(ctx context.Context, hashes []string) ([]string, error) {
	var missing []string
	for _, h := range hashes {
		has, err := s.Has(ctx, h)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, h)
		}
	}
	return missing, nil
}
