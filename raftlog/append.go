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
	"bytes"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/saveq/logdb"
)

// handleAppend is the append handler of spec §4.3: Phase A decides under
// lock, Phase B writes to storage without the lock held, Phase C reconciles
// the tracker state under lock again. It returns the number of entries
// deleted by an overwrite (0 outside the overwrite path) and whether the
// caller should notify subscribers.
func (q *Queue) handleAppend(req *AppendRequest) (notify bool, deleted int, err error) {
	index := req.PrevIndex + 1
	term := req.Term
	overwrite := false

	q.mu.Lock()

	if q.saving.Contains(index) {
		// Another worker already owns this index: idempotent re-send.
		q.mu.Unlock()
		return false, 0, nil
	}

	if index <= q.savedIndex {
		// Possibly divergent overwrite. The point read of the existing
		// entry is the one I/O operation the spec allows under lock.
		existing, getErr := q.db.Get(q.cfg.MemberID, index)
		if getErr == logdb.ErrNotFound {
			q.mu.Unlock()
			return false, 0, &InconsistentError{
				MemberID: q.cfg.MemberID, Index: index,
				Reason: "I1 violated: saved_index covers index but storage has no entry there",
			}
		}
		if getErr != nil {
			q.mu.Unlock()
			return false, 0, &StorageError{Op: "Get", Err: getErr}
		}
		if bytes.Equal(existing.Payload, req.Payload) {
			q.mu.Unlock()
			return false, 0, nil
		}

		q.savedIndex = index - 1
		lastToDelete := int64(-1)
		if q.saving.Cardinality() > 0 {
			lastToDelete = int64(maxOf(q.saving.ToSlice()))
		}
		q.mu.Unlock()

		n, delErr := q.deleteRange(index, lastToDelete)
		if delErr != nil {
			// q.savedIndex was already regressed, and deleteBackward deletes
			// highest-index-first, so which of [index, lastToDelete] are
			// actually gone from storage at this point is unknown without
			// requerying it; there is no value we can assign savedIndex
			// that is safely known correct. Force the next Start/Settle's
			// reconciler pass to rederive truth from storage instead of
			// guessing.
			q.mu.Lock()
			q.initialized = false
			q.mu.Unlock()
			return false, 0, &StorageError{Op: "deleteRange", Err: delErr}
		}
		deleted = n
		overwrite = true
		// Fall through to Phase B/C for this same index.
	} else if _, ok := q.saved[index]; ok {
		// Already written out-of-order by another worker.
		q.mu.Unlock()
		return false, 0, nil
	} else {
		if err := q.admitNewIndex(index); err != nil {
			q.mu.Unlock()
			return false, 0, err
		}
		q.mu.Unlock()
	}

	// Phase B: the slow operation, outside the lock.
	if err := q.db.Append(q.cfg.MemberID, term, index, req.Payload); err != nil {
		q.mu.Lock()
		q.saving.Remove(index)
		if overwrite {
			// Same reasoning as the deleteRange failure above: savedIndex
			// was already regressed and the diverging suffix already
			// deleted, but this write of the replacement entry failed, so
			// storage now has neither the old nor the new entry at index.
			// Only a fresh reconciler pass can re-establish the truth.
			q.initialized = false
		}
		q.mu.Unlock()
		return false, deleted, &StorageError{Op: "Append", Err: err}
	}

	// Phase C: reconcile under lock.
	q.mu.Lock()
	if !overwrite && !q.saving.Contains(index) && index > q.savedIndex {
		// The overwrite branch never adds index to saving, so it would
		// always trip this warning; only the normal-admission path is
		// expected to have it present here.
		log.Warn("save queue: index missing from saving set at completion", "index", index)
	}
	q.saving.Remove(index)

	advanced := false
	if index == q.savedIndex+1 {
		q.savedIndex = index
		q.lastTerm = term
		advanced = true
		next := index + 1
		for {
			t, ok := q.saved[next]
			if !ok {
				break
			}
			q.lastTerm = t
			delete(q.saved, next)
			q.savedIndex = next
			next++
		}
	} else if index > q.savedIndex {
		q.saved[index] = term
	} else {
		log.Warn("save queue: saved_index passed completing write", "index", index, "saved_index", q.savedIndex)
	}
	savedIndex := q.savedIndex
	q.mu.Unlock()

	savedIndexGauge.Update(int64(savedIndex))
	return advanced || deleted > 0, deleted, nil
}

// admitNewIndex implements the "normal case" branch of Phase A: it grows
// max_gap if needed and inserts index into the saving set. Callers must
// hold q.mu for the whole call. The max_gap write is a single small
// persisted integer (spec §6), so it stays inside the same critical
// section as the saving-set insert; splitting them would open a window
// where two workers could both decide to write the same index before
// either lands in saving.
func (q *Queue) admitNewIndex(index uint64) error {
	gap := uint64(q.maxGap)
	if g := index - q.savedIndex; g > gap {
		gap = g
	}
	if gap > uint64(q.maxGap) {
		rounded := uint32(((gap / 10) + 1) * 10)
		if err := q.db.SetMaxGap(q.cfg.MemberID, rounded); err != nil {
			return &StorageError{Op: "SetMaxGap", Err: err}
		}
		q.maxGap = rounded
	}
	q.saving.Add(index)
	return nil
}

// deleteRange deletes entries in [from, to] from highest index downward, so
// the persisted max_gap never needs to grow mid-delete (spec §4.6). If to
// is negative, it is re-resolved as max(saved_index, storage.last_index).
// Callers must not hold q.mu.
func (q *Queue) deleteRange(from uint64, to int64) (int, error) {
	if to < 0 {
		resolved := q.currentSavedIndex()
		last, err := q.db.GetLast(q.cfg.MemberID)
		if err != nil && err != logdb.ErrNotFound {
			return 0, err
		}
		if err == nil && last.Index > resolved {
			resolved = last.Index
		}
		to = int64(resolved)
	}
	if to < int64(from) {
		return 0, nil
	}
	return q.deleteBackward(from, uint64(to))
}

// deleteBackward deletes [from, to] from highest index downward. It touches
// only storage, never the tracker lock, so it is safe to call both from
// unlocked contexts (the overwrite path) and from contexts that already
// hold q.mu (the reconciler, which runs with workers quiesced).
func (q *Queue) deleteBackward(from, to uint64) (int, error) {
	n := 0
	for i := to; i >= from; i-- {
		if err := q.db.Delete(q.cfg.MemberID, i); err != nil {
			return n, err
		}
		n++
		if i == 0 {
			break
		}
	}
	if n > 0 {
		deletesCounter.Inc(int64(n))
	}
	return n, nil
}

func (q *Queue) currentSavedIndex() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.savedIndex
}

func maxOf(xs []uint64) uint64 {
	var m uint64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
