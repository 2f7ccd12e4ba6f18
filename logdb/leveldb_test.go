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

package logdb_test

import (
	"testing"

	"github.com/holiman/saveq/logdb"
	"github.com/holiman/saveq/logdb/raftlogtest"
	"github.com/stretchr/testify/require"
)

func TestLevelDBConformance(t *testing.T) {
	dir := t.TempDir()
	db, err := logdb.OpenLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()

	raftlogtest.Run(t, db)
}

func TestLevelDBRefusesSecondOpener(t *testing.T) {
	dir := t.TempDir()
	db, err := logdb.OpenLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = logdb.OpenLevelDB(dir)
	require.Error(t, err)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := logdb.OpenLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Append(1, 5, 1, []byte("payload")))
	require.NoError(t, db.SetMaxGap(1, 12))
	require.NoError(t, db.Close())

	db2, err := logdb.OpenLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	e, err := db2.Get(1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(5), e.Term)

	gap, err := db2.GetMaxGap(1)
	require.NoError(t, err)
	require.Equal(t, uint32(12), gap)
}
