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
	"testing"
	"time"

	"github.com/holiman/saveq/logdb"
	"github.com/stretchr/testify/require"
)

const testMember = uint64(1)

func newTestQueue(t *testing.T) (*Queue, logdb.Database) {
	t.Helper()
	db := logdb.NewMemory()
	q := New(db, Config{MemberID: testMember, Workers: 2})
	require.NoError(t, q.Start())
	t.Cleanup(func() { q.Stop() })
	return q, db
}

// waitRid polls GetLatest until it reports at least want, or fails the test.
func waitRid(t *testing.T, q *Queue, want uint64) Rid {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var rid Rid
		if err := q.GetLatest(&rid); err == nil && rid.Index >= want {
			return rid
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("saved_index never reached %d", want)
	return Rid{}
}

// Scenario: in-order writes. P1/P2 — saved_index only advances past entries
// actually durable in storage, and never skips ahead of a gap.
func TestInOrderWrites(t *testing.T) {
	q, db := newTestQueue(t)

	for i := uint64(0); i < 5; i++ {
		q.Enqueue(&AppendRequest{PrevIndex: i, Term: 1, Payload: []byte{byte(i)}})
	}
	rid := waitRid(t, q, 5)
	require.Equal(t, uint64(5), rid.Index)
	require.Equal(t, uint64(1), rid.Term)

	for i := uint64(1); i <= 5; i++ {
		e, err := db.Get(testMember, i)
		require.NoError(t, err)
		require.Equal(t, i, e.Index)
	}
}

// Scenario: out-of-order completion. A later index's write lands before an
// earlier one's; saved_index must not advance until the prefix is complete,
// and must catch up through the saved set once it does (P1, P3).
func TestOutOfOrderCompletion(t *testing.T) {
	db := logdb.NewMemory()
	q := New(db, Config{MemberID: testMember, Workers: 1})
	require.NoError(t, q.Start())
	defer q.Stop()

	q.Enqueue(&AppendRequest{PrevIndex: 2, Term: 1, Payload: []byte("c")}) // index 3
	q.Enqueue(&AppendRequest{PrevIndex: 1, Term: 1, Payload: []byte("b")}) // index 2
	q.Enqueue(&AppendRequest{PrevIndex: 0, Term: 1, Payload: []byte("a")}) // index 1

	rid := waitRid(t, q, 3)
	require.Equal(t, uint64(3), rid.Index)

	stats := q.Stats()
	require.Equal(t, 0, stats.SavedCount, "saved side-table must drain once the prefix catches up")
}

// Scenario: idempotent re-send. Two identical requests for the same index
// must not double-append or error (P4).
func TestIdempotentResend(t *testing.T) {
	q, db := newTestQueue(t)

	req := &AppendRequest{PrevIndex: 0, Term: 1, Payload: []byte("x")}
	q.Enqueue(req)
	waitRid(t, q, 1)

	q.Enqueue(&AppendRequest{PrevIndex: 0, Term: 1, Payload: []byte("x")})
	time.Sleep(20 * time.Millisecond)

	rid := waitRid(t, q, 1)
	require.Equal(t, uint64(1), rid.Index)
	count, err := db.Count(testMember)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

// Scenario: divergent overwrite. A re-send for an already-saved index with a
// different payload must roll saved_index back, delete the diverging
// suffix, and re-save under the new term (I1, P5).
func TestDivergentOverwrite(t *testing.T) {
	q, db := newTestQueue(t)

	for i := uint64(0); i < 3; i++ {
		q.Enqueue(&AppendRequest{PrevIndex: i, Term: 1, Payload: []byte{byte(i)}})
	}
	waitRid(t, q, 3)

	// Leader re-sends index 2 with a different payload and a higher term.
	q.Enqueue(&AppendRequest{PrevIndex: 1, Term: 2, Payload: []byte("conflict")})

	deadline := time.Now().Add(2 * time.Second)
	var rid Rid
	for time.Now().Before(deadline) {
		require.NoError(t, q.GetLatest(&rid))
		if rid.Index == 2 && rid.Term == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, uint64(2), rid.Index)
	require.Equal(t, uint64(2), rid.Term)

	_, err := db.Get(testMember, 3)
	require.ErrorIs(t, err, logdb.ErrNotFound, "the diverging suffix must be deleted")

	e, err := db.Get(testMember, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("conflict"), e.Payload)
}

// Scenario: gap-aware recovery. After a restart, the reconciler must only
// scan back max_gap+1 entries and must trim any orphaned suffix left by a
// crash mid-write (I3, P6).
func TestGapAwareRecovery(t *testing.T) {
	db := logdb.NewMemory()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, db.Append(testMember, 1, i, []byte{byte(i)}))
	}
	// Simulate an orphan: index 5 written but 4 missing (crash mid-write).
	require.NoError(t, db.Append(testMember, 1, 5, []byte{5}))
	require.NoError(t, db.SetMaxGap(testMember, 10))

	q := New(db, Config{MemberID: testMember, Workers: 1})
	require.NoError(t, q.Start())
	defer q.Stop()

	var rid Rid
	require.NoError(t, q.GetLatest(&rid))
	require.Equal(t, uint64(3), rid.Index)

	_, err := db.Get(testMember, 5)
	require.ErrorIs(t, err, logdb.ErrNotFound, "orphaned entry above the contiguous prefix must be deleted")

	count, err := db.Count(testMember)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
}

// Scenario: settle quiescence. Settle must drain pending work, wait for
// every worker to park, and only then hand back a freshly reconciled Rid.
func TestSettleQuiescence(t *testing.T) {
	q, _ := newTestQueue(t)

	for i := uint64(0); i < 4; i++ {
		q.Enqueue(&AppendRequest{PrevIndex: i, Term: 1, Payload: []byte{byte(i)}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var rid Rid
	require.NoError(t, q.Settle(ctx, &rid))
	require.Equal(t, 0, q.Size())
}

// Truncate must wipe the member's log and converge to (0, 0) (spec §4.5).
func TestTruncate(t *testing.T) {
	q, db := newTestQueue(t)

	for i := uint64(0); i < 3; i++ {
		q.Enqueue(&AppendRequest{PrevIndex: i, Term: 1, Payload: []byte{byte(i)}})
	}
	waitRid(t, q, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Truncate(ctx))

	var rid Rid
	require.NoError(t, q.GetLatest(&rid))
	require.Equal(t, Rid{}, rid)

	_, err := db.GetLast(testMember)
	require.ErrorIs(t, err, logdb.ErrNotFound)
}

// GetLatestWait must unblock once the reconciler completes, and must return
// the context error if cancelled first.
func TestGetLatestWaitCancel(t *testing.T) {
	db := logdb.NewMemory()
	q := New(db, Config{MemberID: testMember, Workers: 1})
	// Start is deliberately not called: the reconciler never runs, so
	// GetLatestWait must block until ctx is cancelled.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var rid Rid
	err := q.GetLatestWait(ctx, &rid)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoubleStartRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	require.Error(t, q.Start())
}

func TestSubscribeIndexUpdated(t *testing.T) {
	q, _ := newTestQueue(t)

	ch := make(chan IndexUpdate, 8)
	sub := q.SubscribeIndexUpdated(ch)
	defer sub.Unsubscribe()

	q.Enqueue(&AppendRequest{PrevIndex: 0, Term: 1, Payload: []byte("a")})
	waitRid(t, q, 1)

	select {
	case upd := <-ch:
		require.False(t, upd.IsError)
	case <-time.After(time.Second):
		t.Fatal("expected an IndexUpdate notification")
	}
}
