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

// Package logdb defines the durable, random-access storage adapter a Raft
// member's save queue writes through, and ships two implementations: an
// in-process Memory store for tests and embedded use, and a LevelDB-backed
// store for production.
package logdb

import "errors"

// ErrNotFound is returned by Get/GetLast when no entry exists at the
// requested position.
var ErrNotFound = errors.New("logdb: entry not found")

// Entry is a single Raft log record as stored on disk.
type Entry struct {
	Term    uint64
	Index   uint64
	Payload []byte
}

// Database is the contract the save queue consumes from the durable log
// store. All operations are synchronous; implementations must tolerate
// non-monotonic index arrival at Append and must make Delete idempotent on
// an already-absent index.
type Database interface {
	// GetLast returns the entry with the highest stored index for the
	// member, or ErrNotFound if the member has no entries.
	GetLast(memberID uint64) (*Entry, error)

	// Get returns the entry at index, or ErrNotFound if absent.
	Get(memberID, index uint64) (*Entry, error)

	// Append inserts an entry at an arbitrary index. It fails if the index
	// is already occupied.
	Append(memberID, term, index uint64, payload []byte) error

	// Delete removes the entry at index. Deleting an absent index is a
	// no-op.
	Delete(memberID, index uint64) error

	// Count returns the number of entries stored for the member.
	Count(memberID uint64) (uint64, error)

	// GetMaxGap and SetMaxGap access the persisted crash-recovery hint
	// described in spec §4.3/§4.4.
	GetMaxGap(memberID uint64) (uint32, error)
	SetMaxGap(memberID uint64, gap uint32) error

	// GetOwnerPID/SetOwnerPID and GetOwnerAddress/SetOwnerAddress access
	// the small persisted single-writer guard slots (invariant I5).
	GetOwnerPID(memberID uint64) (string, error)
	SetOwnerPID(memberID uint64, pid string) error
	GetOwnerAddress(memberID uint64) (string, error)
	SetOwnerAddress(memberID uint64, addr string) error

	// Close releases any resources (file handles, locks) held by the
	// implementation.
	Close() error
}
