// Copyright 2024 The saveq Authors
// This file is part of the saveq library.
//
// The saveq library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The saveq library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the saveq library. If not, see <http://www.gnu.org/licenses/>.

package logdb

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a durable Database backed by github.com/syndtr/goleveldb, the
// same on-disk engine the go-ethereum chain database wraps. It claims an OS
// file lock on the data directory in addition to the owner_pid/owner_address
// metadata slots that invariant I5 specifies, so a second process attached
// to the same directory fails fast instead of racing the first for the
// LevelDB manifest.
type LevelDB struct {
	db   *leveldb.DB
	lock *flock.Flock
	dir  string
}

const (
	entryKeyTag = 'e'
	metaKeyTag  = 'm'
)

var (
	maxGapMetaKey   = []byte("maxgap")
	ownerPIDKey     = []byte("ownerpid")
	ownerAddressKey = []byte("owneraddr")
)

// OpenLevelDB opens (creating if absent) a LevelDB-backed store rooted at
// dir. A failure to acquire the flock means another live process already
// has the directory open, and OpenLevelDB returns an error. The owner slots
// checked by raftlog's reconciler are advisory and only produce a warning.
func OpenLevelDB(dir string) (*LevelDB, error) {
	fl := flock.New(filepath.Join(dir, "LOCK.saveq"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("logdb: acquiring directory lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("logdb: directory %s is locked by another process", dir)
	}

	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("logdb: opening leveldb at %s: %w", dir, err)
	}
	return &LevelDB{db: db, lock: fl, dir: dir}, nil
}

func entryKey(memberID, index uint64) []byte {
	key := make([]byte, 18)
	binary.BigEndian.PutUint64(key[0:8], memberID)
	key[8] = entryKeyTag
	binary.BigEndian.PutUint64(key[9:17], index)
	// key[17] left as a terminator byte below max tag value, keeping the
	// entry-key namespace disjoint from meta keys of arbitrary length.
	key[17] = 0
	return key
}

func entryPrefix(memberID uint64) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key[0:8], memberID)
	key[8] = entryKeyTag
	return key
}

func metaKey(memberID uint64, name []byte) []byte {
	key := make([]byte, 9+len(name))
	binary.BigEndian.PutUint64(key[0:8], memberID)
	key[8] = metaKeyTag
	copy(key[9:], name)
	return key
}

func encodeEntry(term uint64, payload []byte) []byte {
	v := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(v[0:8], term)
	copy(v[8:], payload)
	return v
}

func decodeEntry(index uint64, v []byte) *Entry {
	term := binary.BigEndian.Uint64(v[0:8])
	payload := make([]byte, len(v)-8)
	copy(payload, v[8:])
	return &Entry{Term: term, Index: index, Payload: payload}
}

func (l *LevelDB) GetLast(memberID uint64) (*Entry, error) {
	rng := util.BytesPrefix(entryPrefix(memberID))
	it := l.db.NewIterator(rng, nil)
	defer it.Release()

	if !it.Last() {
		return nil, ErrNotFound
	}
	index := binary.BigEndian.Uint64(it.Key()[9:17])
	return decodeEntry(index, it.Value()), it.Error()
}

func (l *LevelDB) Get(memberID, index uint64) (*Entry, error) {
	v, err := l.db.Get(entryKey(memberID, index), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEntry(index, v), nil
}

func (l *LevelDB) Append(memberID, term, index uint64, payload []byte) error {
	key := entryKey(memberID, index)
	_, err := l.db.Get(key, nil)
	if err == nil {
		return fmt.Errorf("logdb: index %d already occupied for member %d", index, memberID)
	}
	if err != leveldb.ErrNotFound {
		return err
	}
	return l.db.Put(key, encodeEntry(term, payload), nil)
}

func (l *LevelDB) Delete(memberID, index uint64) error {
	err := l.db.Delete(entryKey(memberID, index), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return err
	}
	return nil
}

func (l *LevelDB) Count(memberID uint64) (uint64, error) {
	rng := util.BytesPrefix(entryPrefix(memberID))
	it := l.db.NewIterator(rng, nil)
	defer it.Release()

	var n uint64
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (l *LevelDB) getMetaUint32(memberID uint64, name []byte) (uint32, error) {
	v, err := l.db.Get(metaKey(memberID, name), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

func (l *LevelDB) setMetaUint32(memberID uint64, name []byte, val uint32) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, val)
	return l.db.Put(metaKey(memberID, name), v, nil)
}

func (l *LevelDB) getMetaString(memberID uint64, name []byte) (string, error) {
	v, err := l.db.Get(metaKey(memberID, name), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (l *LevelDB) setMetaString(memberID uint64, name []byte, val string) error {
	return l.db.Put(metaKey(memberID, name), []byte(val), nil)
}

func (l *LevelDB) GetMaxGap(memberID uint64) (uint32, error) {
	return l.getMetaUint32(memberID, maxGapMetaKey)
}

func (l *LevelDB) SetMaxGap(memberID uint64, gap uint32) error {
	return l.setMetaUint32(memberID, maxGapMetaKey, gap)
}

func (l *LevelDB) GetOwnerPID(memberID uint64) (string, error) {
	return l.getMetaString(memberID, ownerPIDKey)
}

func (l *LevelDB) SetOwnerPID(memberID uint64, pid string) error {
	return l.setMetaString(memberID, ownerPIDKey, pid)
}

func (l *LevelDB) GetOwnerAddress(memberID uint64) (string, error) {
	return l.getMetaString(memberID, ownerAddressKey)
}

func (l *LevelDB) SetOwnerAddress(memberID uint64, addr string) error {
	return l.setMetaString(memberID, ownerAddressKey, addr)
}

func (l *LevelDB) Close() error {
	err := l.db.Close()
	if unlockErr := l.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}
