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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/saveq/logdb"
)

// Queue is the save queue described by the spec: it dispatches
// AppendRequests to a pool of workers, tracks the longest contiguous saved
// prefix, and exposes the reconciler and role-transition operations.
//
// The zero Queue is not usable; construct one with New.
type Queue struct {
	cfg Config
	db  logdb.Database

	mu            sync.Mutex
	indexReady    *sync.Cond
	queueNonEmpty *sync.Cond

	// commit tracker state, guarded by mu (spec §3/§4.1).
	savedIndex  uint64
	lastTerm    uint64
	saving      mapset.Set[uint64]
	saved       map[uint64]uint64
	maxGap      uint32
	initialized bool

	pending    []*AppendRequest
	numWaiters int
	numWorkers int

	traceStorage atomic.Bool

	feed event.Feed

	wg      sync.WaitGroup
	started bool
	cancel  context.CancelFunc
}

// New constructs a Queue bound to db for the member named in cfg. It does
// not start the worker pool or run the reconciler; call Start for that.
func New(db logdb.Database, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:    cfg,
		db:     db,
		saving: mapset.NewThreadUnsafeSet[uint64](),
		saved:  make(map[uint64]uint64),
	}
	q.traceStorage.Store(cfg.TraceStorage)
	q.indexReady = sync.NewCond(&q.mu)
	q.queueNonEmpty = sync.NewCond(&q.mu)
	return q
}

// SetTraceStorage reloads the tracing.storage configuration key at runtime.
func (q *Queue) SetTraceStorage(on bool) {
	q.traceStorage.Store(on)
}

func (q *Queue) tracing() bool {
	return q.traceStorage.Load()
}

// SubscribeIndexUpdated registers ch to receive IndexUpdate notifications.
// It mirrors the go-ethereum convention of subscribing to an event.Feed for
// chain-head-style notifications.
func (q *Queue) SubscribeIndexUpdated(ch chan<- IndexUpdate) event.Subscription {
	return q.feed.Subscribe(ch)
}

// GetLatest copies (LastTerm, SavedIndex) into rid. It returns
// ErrNotInitialized if the reconciler has not completed yet.
func (q *Queue) GetLatest(rid *Rid) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.initialized {
		return ErrNotInitialized
	}
	rid.Term, rid.Index = q.lastTerm, q.savedIndex
	return nil
}

// GetLatestWait is like GetLatest but blocks until the reconciler has
// completed, or ctx is done.
func (q *Queue) GetLatestWait(ctx context.Context, rid *Rid) error {
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.indexReady.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.initialized {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		q.indexReady.Wait()
	}
	rid.Term, rid.Index = q.lastTerm, q.savedIndex
	return nil
}

// Size returns the current work-queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats takes a point-in-time snapshot of the commit tracker for
// diagnostics (spec §9's "snapshot-copy" alternative to a lock-free
// concurrent map read).
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		SavedIndex:  q.savedIndex,
		LastTerm:    q.lastTerm,
		QueueDepth:  len(q.pending),
		SavingCount: q.saving.Cardinality(),
		SavedCount:  len(q.saved),
		MaxGap:      q.maxGap,
	}
}

// Enqueue appends req to the work queue and wakes a parked worker.
func (q *Queue) Enqueue(req *AppendRequest) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	queueDepthGauge.Update(int64(len(q.pending)))
	q.mu.Unlock()

	q.queueNonEmpty.Signal()
}

// Start runs the reconciler and launches the worker pool. It returns the
// reconciler's *InconsistentError if storage is found to violate I1, or a
// *StorageError if a storage operation fails. An owner slot naming another
// process is only logged as a warning and does not make Start fail.
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("saveq: queue already started")
	}
	q.started = true
	q.numWorkers = int(q.cfg.Workers)
	q.mu.Unlock()

	if err := q.initSavedIndex(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < q.numWorkers; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx, i)
	}
	log.Info("save queue started", "member", q.cfg.MemberID, "workers", q.numWorkers)
	return nil
}

// Stop cancels all workers and waits for each to finish its current write
// before returning. It does not close the underlying Database; callers that
// own the Database's lifecycle should close it themselves after Stop
// returns.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	// Wake any workers parked on queueNonEmpty so they can observe
	// ctx.Done() and exit.
	q.mu.Lock()
	q.queueNonEmpty.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

