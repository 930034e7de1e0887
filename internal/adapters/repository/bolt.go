package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultOpenTimeout = time.Second
	defaultFileMode    = 0o600
)

// BoltStore is a bucketed key/value store on a single bbolt file.
type BoltStore struct {
	filename string
	db       *bolt.DB
	timeout  time.Duration
	mode     os.FileMode
	logger   logger.Logger
}

// NewBoltStore prepares a store for filename. Call Open before use.
func NewBoltStore(filename string, opts ...Option) *BoltStore {
	s := &BoltStore{
		filename: filename,
		timeout:  defaultOpenTimeout,
		mode:     defaultFileMode,
		logger:   logger.Get().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens or creates the database file.
func (s *BoltStore) Open(ctx context.Context) error {
	db, err := bolt.Open(s.filename, s.mode, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.filename, err)
	}
	s.db = db
	s.logger.Info(ctx, "store opened", logger.String("file", s.filename))
	return nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func validate(bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: %q/%q", ErrInvalidKey, bucket, key)
	}
	return nil
}

func record(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RecordStoreOperation(op, result)
}

// Get returns a copy of the value under bucket/key or ErrNotFound.
func (s *BoltStore) Get(_ context.Context, bucket, key string) (val []byte, err error) {
	defer func() { record("get", err) }()
	if err = validate(bucket, key); err != nil {
		return nil, err
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

// Put stores value under bucket/key, creating the bucket when needed.
func (s *BoltStore) Put(_ context.Context, bucket, key string, value []byte) (err error) {
	defer func() { record("put", err) }()
	if err = validate(bucket, key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes bucket/key. Deleting a missing key is not an error.
func (s *BoltStore) Delete(_ context.Context, bucket, key string) (err error) {
	defer func() { record("delete", err) }()
	if err = validate(bucket, key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Incr adds delta to the decimal counter under bucket/key and returns the
// new value. A missing counter starts at zero.
func (s *BoltStore) Incr(_ context.Context, bucket, key string, delta int64) (n int64, err error) {
	defer func() { record("incr", err) }()
	if err = validate(bucket, key); err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		if v := b.Get([]byte(key)); v != nil {
			cur, perr := strconv.ParseInt(string(v), 10, 64)
			if perr != nil {
				return fmt.Errorf("%w: %s/%s", ErrNotNumber, bucket, key)
			}
			n = cur
		}
		n += delta
		return b.Put([]byte(key), []byte(strconv.FormatInt(n, 10)))
	})
	return n, err
}

// Scan calls fn for every key in bucket in key order. A missing bucket
// yields no calls. The value slice is only valid during the call.
func (s *BoltStore) Scan(_ context.Context, bucket string, fn func(key string, value []byte) error) (err error) {
	defer func() { record("scan", err) }()
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
