package forwarder

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketQueue = []byte("pendingRequests")

// boltQueue is the durable backing store for pending forwarder
// requests, following the same one-bucket-per-concern bolt wiring as
// the coordination store's local view.
type boltQueue struct {
	db *bolt.DB
}

func newBoltQueue(dataDir string) (*boltQueue, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "forwarder.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("forwarder: failed to open queue database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueue)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltQueue{db: db}, nil
}

func (q *boltQueue) close() error { return q.db.Close() }

func (q *boltQueue) put(qr *queuedRequest) error {
	data, err := marshalQueued(qr)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Put([]byte(qr.key), data)
	})
}

func (q *boltQueue) remove(key string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete([]byte(key))
	})
}

func (q *boltQueue) loadAll() ([]*queuedRequest, error) {
	var out []*queuedRequest
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(k, v []byte) error {
			qr, err := unmarshalQueued(v)
			if err != nil {
				return err
			}
			out = append(out, qr)
			return nil
		})
	})
	return out, err
}
