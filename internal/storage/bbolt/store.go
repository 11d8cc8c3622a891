// Package bbolt provides a BoltDB-backed session state store for
// deployments that want a single-file database without SQL.
package bbolt

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/reflex/internal/session"
	"go.etcd.io/bbolt"
)

const stateBucket = "session_state"

// Store provides a BoltDB-backed session state store. Each session id maps
// to a nested bucket holding its keys.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure storage buckets: %w", err)
	}
	return nil
}

// Get returns the value stored for key within the session.
func (s *Store) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(stateBucket))
		if sessions == nil {
			return session.ErrNotFound
		}
		bucket := sessions.Bucket([]byte(sessionID))
		if bucket == nil {
			return session.ErrNotFound
		}
		stored := bucket.Get([]byte(key))
		if stored == nil {
			return session.ErrNotFound
		}
		value = make([]byte, len(stored))
		copy(value, stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a value for key within the session.
func (s *Store) Set(ctx context.Context, sessionID, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(stateBucket))
		if sessions == nil {
			return fmt.Errorf("storage bucket is missing")
		}
		bucket, err := sessions.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("set session value: %w", err)
	}
	return nil
}

// Delete removes a key from the session. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(stateBucket))
		if sessions == nil {
			return nil
		}
		bucket := sessions.Bucket([]byte(strings.TrimSpace(sessionID)))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete session value: %w", err)
	}
	return nil
}

// Keys lists the keys stored for a session in sorted order.
func (s *Store) Keys(ctx context.Context, sessionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(stateBucket))
		if sessions == nil {
			return nil
		}
		bucket := sessions.Bucket([]byte(strings.TrimSpace(sessionID)))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
