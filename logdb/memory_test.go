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
)

func TestMemoryConformance(t *testing.T) {
	raftlogtest.Run(t, logdb.NewMemory())
}
