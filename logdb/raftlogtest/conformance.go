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

// Package raftlogtest is a conformance suite that any logdb.Database
// implementation can be run against, the way etcd's raft package validates
// both its in-memory and on-disk Storage implementations against one shared
// set of behavioral expectations.
package raftlogtest

import (
	"testing"

	"github.com/holiman/saveq/logdb"
	"github.com/stretchr/testify/require"
)

// Run exercises the full storage-adapter contract (§6 of the spec) against
// db. Callers pass a fresh, empty Database.
func Run(t *testing.T, db logdb.Database) {
	t.Run("GetLastOnEmpty", func(t *testing.T) {
		_, err := db.GetLast(1)
		require.ErrorIs(t, err, logdb.ErrNotFound)
	})

	t.Run("AppendAndGet", func(t *testing.T) {
		require.NoError(t, db.Append(2, 7, 1, []byte("a")))
		require.NoError(t, db.Append(2, 7, 2, []byte("b")))

		e, err := db.Get(2, 1)
		require.NoError(t, err)
		require.Equal(t, uint64(7), e.Term)
		require.Equal(t, []byte("a"), e.Payload)

		last, err := db.GetLast(2)
		require.NoError(t, err)
		require.Equal(t, uint64(2), last.Index)

		n, err := db.Count(2)
		require.NoError(t, err)
		require.Equal(t, uint64(2), n)
	})

	t.Run("AppendRejectsOccupiedIndex", func(t *testing.T) {
		require.NoError(t, db.Append(3, 1, 1, []byte("x")))
		require.Error(t, db.Append(3, 1, 1, []byte("y")))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, db.Append(4, 1, 1, []byte("x")))
		require.NoError(t, db.Delete(4, 1))
		require.NoError(t, db.Delete(4, 1))

		_, err := db.Get(4, 1)
		require.ErrorIs(t, err, logdb.ErrNotFound)
	})

	t.Run("MaxGapRoundTrips", func(t *testing.T) {
		gap, err := db.GetMaxGap(5)
		require.NoError(t, err)
		require.Zero(t, gap)

		require.NoError(t, db.SetMaxGap(5, 30))
		gap, err = db.GetMaxGap(5)
		require.NoError(t, err)
		require.Equal(t, uint32(30), gap)
	})

	t.Run("OwnerSlotsRoundTrip", func(t *testing.T) {
		require.NoError(t, db.SetOwnerPID(6, "1234"))
		pid, err := db.GetOwnerPID(6)
		require.NoError(t, err)
		require.Equal(t, "1234", pid)

		require.NoError(t, db.SetOwnerAddress(6, "10.0.0.1:9000"))
		addr, err := db.GetOwnerAddress(6)
		require.NoError(t, err)
		require.Equal(t, "10.0.0.1:9000", addr)
	})

	t.Run("MembersAreIsolated", func(t *testing.T) {
		require.NoError(t, db.Append(100, 1, 1, []byte("m100")))
		require.NoError(t, db.Append(200, 1, 1, []byte("m200")))

		e, err := db.Get(100, 1)
		require.NoError(t, err)
		require.Equal(t, []byte("m100"), e.Payload)

		e, err = db.Get(200, 1)
		require.NoError(t, err)
		require.Equal(t, []byte("m200"), e.Payload)
	})
}
