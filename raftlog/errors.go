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
	"errors"
	"fmt"
)

// Sentinel errors for the conditions spec §7 names that don't carry
// per-call detail.
var (
	// ErrNotInitialized is returned by GetLatest before the reconciler has
	// completed its first pass.
	ErrNotInitialized = errors.New("saveq: reconciler has not completed")

	// ErrAlreadyOwned names the condition where another live process owns
	// the member's storage rows. No function in this module returns it:
	// logdb.OpenLevelDB reports a held directory lock with its own error,
	// and the reconciler only logs a warning for a foreign owner slot.
	ErrAlreadyOwned = errors.New("saveq: member storage is owned by another process")

	// ErrCancelled names the shutting-down condition. No function in this
	// module returns it: workers exit when their context is done, and
	// GetLatestWait and Settle return the context's own error.
	ErrCancelled = errors.New("saveq: shutting down")
)

// StorageError wraps a failure returned by the logdb.Database during a
// save-queue operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("saveq: storage op %q failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// InconsistentError reports a violation of invariant I1 or the reconciler's
// count sanity check: storage doesn't agree with what the tracker expects
// to find there.
type InconsistentError struct {
	MemberID uint64
	Index    uint64
	Reason   string
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("saveq: member %d inconsistent at index %d: %s", e.MemberID, e.Index, e.Reason)
}
