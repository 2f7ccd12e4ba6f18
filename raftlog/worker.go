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
)

// runWorker is one worker of the pool (spec §4.2). It parks on
// queueNonEmpty when idle, tracking numWaiters so Settle can detect
// quiescence, and processes one request at a time via handleAppend. A
// storage error is logged and reported but does not stop the worker; only
// cancellation does.
func (q *Queue) runWorker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		req, ok := q.nextRequest(ctx)
		if !ok {
			return
		}

		notify, deleted, err := q.handleAppend(req)
		if err != nil {
			log.Error("save queue: append failed", "member", q.cfg.MemberID,
				"index", req.PrevIndex+1, "worker", id, "err", err)
			errorsCounter.Inc(1)
			q.feed.Send(IndexUpdate{IsError: true, Deleted: false})
			continue
		}
		if q.tracing() {
			log.Debug("save queue: append handled", "member", q.cfg.MemberID,
				"index", req.PrevIndex+1, "worker", id, "notify", notify)
		}
		if notify {
			q.feed.Send(IndexUpdate{IsError: false, Deleted: deleted > 0})
		}
	}
}

// nextRequest pops the head of the work queue, blocking on queueNonEmpty
// while it is empty. It returns ok=false once ctx is done.
func (q *Queue) nextRequest(ctx context.Context) (req *AppendRequest, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
		q.numWaiters++
		q.queueNonEmpty.Wait()
		q.numWaiters--
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
	}

	req = q.pending[0]
	q.pending = q.pending[1:]
	queueDepthGauge.Update(int64(len(q.pending)))
	return req, true
}
