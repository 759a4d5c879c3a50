package storage

import (
	"context"

	"github.com/robcohen/peervault/pkg/peverr"
	"github.com/robcohen/peervault/pkg/security"
)

// ProgressFunc reports bulk-operation progress as (done, total).
type ProgressFunc func(done, total int)

// ReencryptResult is the outcome of EncryptedStorage.ReencryptAll.
type ReencryptResult struct {
	Encrypted int
	Skipped   int
	Failed    []string // keys that failed; the pass continues past them
}

// DecryptResult is the outcome of EncryptedStorage.DecryptAll.
type DecryptResult struct {
	Decrypted int
	Failed    []string
}

// EncryptedStorage wraps an Adapter with a transparent AEAD envelope
// (pkg/security) keyed by a caller-supplied symmetric key. Values that
// already carry the envelope's magic prefix are opened; legacy
// plaintext values are returned unchanged, so enabling encryption on
// an existing vault does not require an upfront migration.
type EncryptedStorage struct {
	inner Adapter
	key   []byte
}

// NewEncryptedStorage wraps inner with AEAD encryption under key (must
// be security.KeySize bytes).
func NewEncryptedStorage(inner Adapter, key []byte) (*EncryptedStorage, error) {
	if len(key) != security.KeySize {
		return nil, peverr.Fatalf("encryption key must be %d bytes, got %d", security.KeySize, len(key))
	}
	return &EncryptedStorage{inner: inner, key: key}, nil
}

func (e *EncryptedStorage) Read(ctx context.Context, key string) ([]byte, error) {
	raw, err := e.inner.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !security.IsEnvelope(raw) {
		return raw, nil
	}
	return security.Open(e.key, raw)
}

func (e *EncryptedStorage) Write(ctx context.Context, key string, value []byte) error {
	wrapped, err := security.Envelope(e.key, value)
	if err != nil {
		return err
	}
	return e.inner.Write(ctx, key, wrapped)
}

func (e *EncryptedStorage) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *EncryptedStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return e.inner.List(ctx, prefix)
}

func (e *EncryptedStorage) Exists(ctx context.Context, key string) (bool, error) {
	return e.inner.Exists(ctx, key)
}

func (e *EncryptedStorage) Close() error {
	return e.inner.Close()
}

// ReencryptAll iterates every key, decrypting with the wrapper's
// transparent read and rewriting with the current key. Already-wrapped
// values under the current key are re-sealed with a fresh nonce, which
// makes the operation safe to resume after interruption: a second pass
// simply re-wraps already-encrypted entries rather than erroring.
func (e *EncryptedStorage) ReencryptAll(ctx context.Context, progress ProgressFunc) (ReencryptResult, error) {
	keys, err := e.inner.List(ctx, "")
	if err != nil {
		return ReencryptResult{}, err
	}
	var res ReencryptResult
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, peverr.Cancel()
		}
		plaintext, err := e.Read(ctx, key)
		if err != nil {
			res.Failed = append(res.Failed, key)
			continue
		}
		if err := e.Write(ctx, key, plaintext); err != nil {
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Encrypted++
		if progress != nil {
			progress(i+1, len(keys))
		}
	}
	return res, nil
}

// DecryptAll is the inverse of ReencryptAll: it reads every key
// through the transparent wrapper and writes the plaintext directly
// via the underlying Adapter, disabling encryption going forward.
func (e *EncryptedStorage) DecryptAll(ctx context.Context, progress ProgressFunc) (DecryptResult, error) {
	keys, err := e.inner.List(ctx, "")
	if err != nil {
		return DecryptResult{}, err
	}
	var res DecryptResult
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, peverr.Cancel()
		}
		plaintext, err := e.Read(ctx, key)
		if err != nil {
			res.Failed = append(res.Failed, key)
			continue
		}
		if err := e.inner.Write(ctx, key, plaintext); err != nil {
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Decrypted++
		if progress != nil {
			progress(i+1, len(keys))
		}
	}
	return res, nil
}
