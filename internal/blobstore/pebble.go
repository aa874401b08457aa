// Package blobstore keeps attachment bytes keyed by attachment id.
package blobstore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no bytes are stored under an id.
var ErrNotFound = errors.New("blob not found")

// Store is the byte storage behind attachments.
type Store interface {
	Put(id int64, data []byte) error
	Get(id int64) ([]byte, error)
	Delete(ids ...int64) error
	Close() error
}

// PebbleStore stores blobs in a pebble database.
type PebbleStore struct {
	db  *pebble.DB
	log *zap.Logger
}

var _ Store = (*PebbleStore)(nil)

// Open opens (or creates) the database at dir. An empty dir keeps everything
// in memory.
func Open(dir string, log *zap.Logger) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", dir), zap.Error(err))
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	log.Info("pebble_opened", zap.String("path", dir), zap.Bool("in_memory", dir == ""))
	return &PebbleStore{db: db, log: log}, nil
}

func key(id int64) []byte {
	return []byte(fmt.Sprintf("attachment:%020d", id))
}

func (s *PebbleStore) Put(id int64, data []byte) error {
	if err := s.db.Set(key(id), data, pebble.Sync); err != nil {
		s.log.Error("blob_put_failed", zap.Int64("attachment_id", id), zap.Error(err))
		return err
	}
	return nil
}

// Get returns a copy of the bytes stored under id.
func (s *PebbleStore) Get(id int64) ([]byte, error) {
	v, closer, err := s.db.Get(key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Delete removes the given ids in one batch. Missing ids are ignored.
func (s *PebbleStore) Delete(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		if err := b.Delete(key(id), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	s.log.Info("pebble_closed")
	return nil
}
