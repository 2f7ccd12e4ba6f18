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
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/google/uuid"
)

// Config holds the two recognized configuration keys from spec §6 plus the
// wiring every Queue needs.
type Config struct {
	// MemberID identifies which member's rows this queue owns in the
	// shared Database.
	MemberID uint64

	// Workers is storage.save_queue_workers: the worker pool size. Read
	// once at Start. Defaults to 5.
	Workers uint

	// TraceStorage is tracing.storage: enables verbose trace logging.
	// Reloadable at runtime via SetTraceStorage.
	TraceStorage bool

	// Clock is used for the settle quiescence wait's polling interval.
	// Defaults to mclock.System{}; tests substitute mclock.Simulated.
	Clock mclock.Clock

	// SettlePoll is how often Settle rechecks whether all workers have
	// parked. Spec §4.5 specifies 100ms.
	SettlePoll time.Duration

	// OwnerAddress identifies this process in the owner_address slot
	// (invariant I5). If empty, New generates a random one with
	// github.com/google/uuid.
	OwnerAddress string
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = 5
	}
	if c.Clock == nil {
		c.Clock = mclock.System{}
	}
	if c.SettlePoll == 0 {
		c.SettlePoll = 100 * time.Millisecond
	}
	if c.OwnerAddress == "" {
		c.OwnerAddress = uuid.NewString()
	}
	return c
}
