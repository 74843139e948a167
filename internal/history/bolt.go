package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"drcare/internal/session"
)

var (
	recordsBucket = []byte("session_records")
	idIndexBucket = []byte("session_record_ids")
)

type boltRepo struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the history file at path. Records are
// keyed by a big-endian sequence so cursor order is insertion order.
func NewBoltRepository(path string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("open %s: %w", path, ErrStoreLocked)
	}
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(idIndexBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltRepo{db: db}, nil
}

func (r *boltRepo) Insert(ctx context.Context, rec session.Record) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(idIndexBucket)
		if index.Get([]byte(rec.ID)) != nil {
			return nil
		}
		b := tx.Bucket(recordsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := b.Put(key, enc); err != nil {
			return err
		}
		return index.Put([]byte(rec.ID), key)
	})
}

func (r *boltRepo) List(ctx context.Context) ([]session.Record, error) {
	var out []session.Record
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var rec session.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				// Skip malformed entries instead of failing the whole list
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (r *boltRepo) Get(ctx context.Context, id string) (session.Record, error) {
	var rec session.Record
	err := r.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(idIndexBucket).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		v := tx.Bucket(recordsBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (r *boltRepo) Close() error {
	return r.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
