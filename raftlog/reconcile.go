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

package raftlog

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/saveq/logdb"
)

// initSavedIndex is the reconciler of spec §4.4. It runs under the tracker
// lock; callers (Start, Settle) are responsible for ensuring no worker is
// mid-write when it runs — Start calls it before launching any worker,
// Settle calls it only after all workers have parked.
func (q *Queue) initSavedIndex() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initSavedIndexLocked()
}

func (q *Queue) initSavedIndexLocked() error {
	member := q.cfg.MemberID

	last, err := q.db.GetLast(member)
	var lastIndex uint64
	if err != nil {
		if err != logdb.ErrNotFound {
			return &StorageError{Op: "GetLast", Err: err}
		}
	} else {
		lastIndex = last.Index
	}

	if pid, perr := q.db.GetOwnerPID(member); perr == nil {
		self := intToString(processID())
		if pid != "" && pid != self {
			log.Warn("save queue: storage owner differs from this process", "member", member, "owner", pid)
		}
		if serr := q.db.SetOwnerPID(member, self); serr != nil {
			return &StorageError{Op: "SetOwnerPID", Err: serr}
		}
		if serr := q.db.SetOwnerAddress(member, q.cfg.OwnerAddress); serr != nil {
			return &StorageError{Op: "SetOwnerAddress", Err: serr}
		}
	} else {
		return &StorageError{Op: "GetOwnerPID", Err: perr}
	}

	maxGap, err := q.db.GetMaxGap(member)
	if err != nil {
		return &StorageError{Op: "GetMaxGap", Err: err}
	}

	start := uint64(1)
	if lastIndex > uint64(maxGap)+1 {
		start = lastIndex - uint64(maxGap) - 1
	}

	var newSavedIndex, newLastTerm uint64
	for i := start; i <= lastIndex; i++ {
		entry, err := q.db.Get(member, i)
		if err != nil {
			if err != logdb.ErrNotFound {
				return &StorageError{Op: "Get", Err: err}
			}
			// The contiguous prefix ends at i-1; anything above it is an
			// orphan left behind by a crash mid-write and must go.
			if _, derr := q.deleteBackward(i+1, lastIndex); derr != nil {
				return &StorageError{Op: "deleteBackward", Err: derr}
			}
			break
		}
		newLastTerm = entry.Term
		newSavedIndex = i
	}

	count, err := q.db.Count(member)
	if err != nil {
		return &StorageError{Op: "Count", Err: err}
	}
	if count != newSavedIndex {
		return &InconsistentError{
			MemberID: member, Index: newSavedIndex,
			Reason: "storage entry count does not match the reconciled contiguous prefix",
		}
	}

	q.lastTerm = newLastTerm
	q.savedIndex = newSavedIndex
	q.saved = make(map[uint64]uint64)
	q.saving = mapset.NewThreadUnsafeSet[uint64]()
	q.pending = nil
	q.initialized = true
	q.indexReady.Broadcast()

	savedIndexGauge.Update(int64(newSavedIndex))
	queueDepthGauge.Update(0)

	if err := q.db.SetMaxGap(member, 0); err != nil {
		return &StorageError{Op: "SetMaxGap", Err: err}
	}
	q.maxGap = 0

	log.Debug("save queue reconciled", "member", member, "saved_index", newSavedIndex, "last_term", newLastTerm)
	return nil
}
