package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"ehranchor/internal/domain"
)

// cidPrefix yields CIDv1 raw-leaf addresses, the form IPFS gives small files added with raw leaves.
var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Local is a content-addressed store on goleveldb
type Local struct {
	db *leveldb.DB
}

// NewLocal opens a store at path, or in memory when path is empty
func NewLocal(path string) (*Local, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}
	return &Local{db: db}, nil
}

// Close releases the underlying database
func (s *Local) Close() error {
	return s.db.Close()
}

// Add stores data under its CID
func (s *Local) Add(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transportError("local add", err)
	}
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("local add: failed to compute cid: %w", err)
	}
	if err := s.db.Put(c.Bytes(), data, nil); err != nil {
		return "", fmt.Errorf("local add: %v: %w", err, domain.ErrTransport)
	}
	return c.String(), nil
}

// Retrieve returns the object stored at address
func (s *Local) Retrieve(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError("local retrieve", err)
	}
	c, err := cid.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("local retrieve: invalid address '%s': %w", address, domain.ErrMalformedInput)
	}
	data, err := s.db.Get(c.Bytes(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("local retrieve: %s: %w", address, domain.ErrObjectUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("local retrieve: %v: %w", err, domain.ErrTransport)
	}
	return data, nil
}

// Overwrite replaces the bytes behind address without recomputing it. It exists to simulate
// corruption at the store.
func (s *Local) Overwrite(address string, data []byte) error {
	c, err := cid.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid address '%s': %w", address, domain.ErrMalformedInput)
	}
	return s.db.Put(c.Bytes(), data, nil)
}

// Remove deletes the object at address, simulating an unpinned object
func (s *Local) Remove(address string) error {
	c, err := cid.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid address '%s': %w", address, domain.ErrMalformedInput)
	}
	return s.db.Delete(c.Bytes(), nil)
}
