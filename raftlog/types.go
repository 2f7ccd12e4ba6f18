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

// Package raftlog implements the save queue: a multi-worker, lock-
// coordinated pipeline that dispatches Raft AppendEntries-derived writes to
// a durable logdb.Database, exposes the longest contiguous saved prefix,
// reconciles with storage at startup and role transitions, and supports a
// protocol-driven overwrite of diverging history.
package raftlog

// Rid is a snapshot of the tip of the contiguous saved prefix.
type Rid struct {
	Term  uint64
	Index uint64
}

// AppendRequest is one unit of work handed to the save queue by the
// consensus layer. The target index is PrevIndex+1.
type AppendRequest struct {
	PrevIndex uint64
	Term      uint64
	Payload   []byte

	// Meta is opaque caller data, not interpreted by the queue. It is not
	// round-tripped anywhere; callers that need to correlate a request with
	// its eventual effect should watch SubscribeIndexUpdated instead, since
	// writes may complete out of order and several requests may be folded
	// into a single saved-index advance.
	Meta any
}

// IndexUpdate is fired on the queue's notification feed whenever the saved
// index advances, entries are deleted, or a worker observes a storage
// error.
type IndexUpdate struct {
	IsError bool
	Deleted bool
}

// Stats is a point-in-time, lock-protected snapshot of the commit tracker,
// intended for diagnostics.
type Stats struct {
	SavedIndex  uint64
	LastTerm    uint64
	QueueDepth  int
	SavingCount int
	SavedCount  int
	MaxGap      uint32
}
