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
	"context"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/saveq/logdb"
)

// Settle is called on a Raft role change (spec §4.5): it discards pending
// work, waits for every worker to park on queueNonEmpty, then re-runs the
// reconciler and snapshots the result into rid.
//
// The wait is polled every cfg.SettlePoll (100ms by default) rather than
// signaled, since a hung worker must not be able to block settle forever —
// a known limitation the spec itself calls out; a future hard-timeout with
// forced abort would close it.
func (q *Queue) Settle(ctx context.Context, rid *Rid) error {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	queueDepthGauge.Update(0)
	if dropped > 0 {
		log.Debug("save queue: settle discarded pending work", "member", q.cfg.MemberID, "count", dropped)
	}

	for {
		q.mu.Lock()
		quiesced := q.numWaiters == q.numWorkers
		q.mu.Unlock()
		if quiesced {
			break
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		q.cfg.Clock.Sleep(q.cfg.SettlePoll)
	}

	if err := q.initSavedIndex(); err != nil {
		return err
	}
	return q.GetLatest(rid)
}

// Truncate wipes the entire log for this member (spec §4.5), used when the
// role machine demotes this process to a passive replica. It asserts the
// resulting Rid is (0, 0).
func (q *Queue) Truncate(ctx context.Context) error {
	last, err := q.db.GetLast(q.cfg.MemberID)
	if err != nil && err != logdb.ErrNotFound {
		return &StorageError{Op: "GetLast", Err: err}
	}
	if err == nil {
		if _, derr := q.deleteRange(1, int64(last.Index)); derr != nil {
			return &StorageError{Op: "deleteRange", Err: derr}
		}
	}

	q.mu.Lock()
	q.lastTerm = 0
	q.savedIndex = 0
	q.mu.Unlock()

	var rid Rid
	if err := q.Settle(ctx, &rid); err != nil {
		return err
	}
	if rid.Term != 0 || rid.Index != 0 {
		return &InconsistentError{
			MemberID: q.cfg.MemberID, Index: rid.Index,
			Reason: "truncate did not converge to (0, 0)",
		}
	}
	return nil
}
