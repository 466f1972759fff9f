package storage

import (
	"context"
	"errors"

	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket every key-value row lives in.
var boltBucket = []byte("zaxmail")

// BoltDriver is a Driver backed by a single bbolt file, the default
// local backing store: an embedded key/object engine rather than the
// ad hoc JSON file FSDriver uses, for mailboxes that outgrow a single
// flat file (keyring plus every guest's stored messages and file
// metadata over the mailbox's lifetime).
type BoltDriver struct {
	db *bolt.DB
}

// NewBoltDriver opens (creating if necessary) a bbolt database at path.
func NewBoltDriver(path string) (*BoltDriver, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDriver{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (d *BoltDriver) Close() error { return d.db.Close() }

func (d *BoltDriver) Get(_ context.Context, key string) (string, error) {
	var value string
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = string(v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (d *BoltDriver) Set(_ context.Context, key, value string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
}

func (d *BoltDriver) Remove(_ context.Context, key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

// GetMany and SetMany implement BulkDriver in a single bbolt transaction.
func (d *BoltDriver) GetMany(_ context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		for _, k := range keys {
			if v := b.Get([]byte(k)); v != nil {
				out[k] = string(v)
			}
		}
		return nil
	})
	return out, err
}

func (d *BoltDriver) SetMany(_ context.Context, values map[string]string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

var (
	_ Driver     = (*BoltDriver)(nil)
	_ BulkDriver = (*BoltDriver)(nil)
)
