// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/camvisor/internal/camera"
)

const badgerPrefix = "state:"

// BadgerStore keeps one JSON record per device under "state:<id>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(_ context.Context, deviceID string, st camera.ConnectionState) error {
	buf, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+deviceID), buf)
	})
}

func (s *BadgerStore) Load(_ context.Context, deviceID string) (camera.ConnectionState, error) {
	var st camera.ConnectionState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + deviceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return camera.ConnectionState{}, ErrNotFound
	}
	return st, err
}

func (s *BadgerStore) List(_ context.Context) (map[string]camera.ConnectionState, error) {
	out := make(map[string]camera.ConnectionState)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), badgerPrefix)
			var st camera.ConnectionState
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return fmt.Errorf("decode state %s: %w", id, err)
			}
			out[id] = st
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, deviceID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + deviceID))
	})
}

func (s *BadgerStore) Close() error { return s.db.Close() }
