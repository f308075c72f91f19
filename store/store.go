// Package store persists replica snapshots in LevelDB. A replica is only
// valid for the (contract, start block) pair it was replayed from, so every
// key starts with that pair.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/kysee/zk-unirep/state"
)

var (
	unirepPrefix = []byte("unirep/")
	userPrefix   = []byte("user/")
)

// UnirepCheckpoint is the global state after every event up to LastBlock.
type UnirepCheckpoint struct {
	LastBlock uint64
	State     *state.UnirepSnapshot
}

// UserCheckpoint is one identity's state after every event up to LastBlock.
type UserCheckpoint struct {
	LastBlock uint64
	State     *state.UserSnapshot
}

// Store wraps LevelDB. LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func replicaKey(prefix []byte, contract common.Address, startBlock uint64) []byte {
	key := make([]byte, 0, len(prefix)+common.AddressLength+8+fr.Bytes)
	key = append(key, prefix...)
	key = append(key, contract.Bytes()...)
	return binary.BigEndian.AppendUint64(key, startBlock)
}

func userKey(contract common.Address, startBlock uint64, commitment [32]byte) []byte {
	return append(replicaKey(userPrefix, contract, startBlock), commitment[:]...)
}

// SaveCheckpoint writes the global checkpoint and the given user checkpoints
// in one batch, so a reader never sees them out of step.
func (s *Store) SaveCheckpoint(contract common.Address, startBlock uint64, unirep *UnirepCheckpoint, users ...*UserCheckpoint) error {
	batch := new(leveldb.Batch)

	enc, err := rlp.EncodeToBytes(unirep)
	if err != nil {
		return fmt.Errorf("failed to encode unirep checkpoint: %w", err)
	}
	batch.Put(replicaKey(unirepPrefix, contract, startBlock), enc)

	for _, u := range users {
		if u.LastBlock != unirep.LastBlock {
			return fmt.Errorf("user checkpoint at block %d, unirep checkpoint at block %d", u.LastBlock, unirep.LastBlock)
		}
		enc, err := rlp.EncodeToBytes(u)
		if err != nil {
			return fmt.Errorf("failed to encode user checkpoint: %w", err)
		}
		batch.Put(userKey(contract, startBlock, u.State.Commitment), enc)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadUnirep returns the global checkpoint, or found=false if none was saved.
func (s *Store) LoadUnirep(contract common.Address, startBlock uint64) (*UnirepCheckpoint, bool, error) {
	data, found, err := s.get(replicaKey(unirepPrefix, contract, startBlock))
	if err != nil || !found {
		return nil, found, err
	}
	var cp UnirepCheckpoint
	if err := rlp.DecodeBytes(data, &cp); err != nil {
		return nil, false, fmt.Errorf("failed to decode unirep checkpoint: %w", err)
	}
	return &cp, true, nil
}

func (s *Store) LoadUser(contract common.Address, startBlock uint64, commitment fr.Element) (*UserCheckpoint, bool, error) {
	data, found, err := s.get(userKey(contract, startBlock, commitment.Bytes()))
	if err != nil || !found {
		return nil, found, err
	}
	var cp UserCheckpoint
	if err := rlp.DecodeBytes(data, &cp); err != nil {
		return nil, false, fmt.Errorf("failed to decode user checkpoint: %w", err)
	}
	return &cp, true, nil
}

// Users returns every user checkpoint of the replica, ordered by commitment.
func (s *Store) Users(contract common.Address, startBlock uint64) ([]*UserCheckpoint, error) {
	prefix := replicaKey(userPrefix, contract, startBlock)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*UserCheckpoint
	for iter.Next() {
		var cp UserCheckpoint
		if err := rlp.DecodeBytes(iter.Value(), &cp); err != nil {
			return nil, fmt.Errorf("failed to decode user checkpoint %x: %w", bytes.TrimPrefix(iter.Key(), prefix), err)
		}
		out = append(out, &cp)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate user checkpoints: %w", err)
	}
	return out, nil
}

// Drop deletes the replica and all its user checkpoints.
func (s *Store) Drop(contract common.Address, startBlock uint64) error {
	batch := new(leveldb.Batch)
	batch.Delete(replicaKey(unirepPrefix, contract, startBlock))

	iter := s.db.NewIterator(util.BytesPrefix(replicaKey(userPrefix, contract, startBlock)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}
