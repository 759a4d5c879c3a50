package storage

import (
	"context"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/robcohen/peervault/pkg/peverr"
)

var bucketName = []byte("peervault")

// BoltAdapter is the default Adapter, backed by a single bbolt bucket
// holding the entire flat key namespace described in spec §6.1. It
// follows a transaction-per-call shape (db.Update/db.View)
// but collapses per-resource-type buckets into one,
// since every value here is already namespaced by its key prefix
// (blob/, blob-meta/, peervault-migration-backup-<v>/, ...).
type BoltAdapter struct {
	db *bolt.DB
}

// NewBoltAdapter opens (creating if absent) a bbolt database at path
// and ensures the flat bucket exists.
func NewBoltAdapter(path string) (*BoltAdapter, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, peverr.TransientWrap(err, "open bolt database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, peverr.Fatalf("create bucket: %v", err)
	}
	return &BoltAdapter{db: db}, nil
}

func (a *BoltAdapter) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, peverr.Cancel()
	}
	var out []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v == nil {
			return peverr.ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *BoltAdapter) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return peverr.Cancel()
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

func (a *BoltAdapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return peverr.Cancel()
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (a *BoltAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return peverr.Cancel()
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *BoltAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Read(ctx, key)
	if err == nil {
		return true, nil
	}
	if err == peverr.ErrNotFound {
		return false, nil
	}
	return false, err
}

func (a *BoltAdapter) Close() error {
	return a.db.Close()
}
