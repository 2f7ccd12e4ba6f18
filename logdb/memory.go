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

package logdb

import (
	"fmt"
	"sync"
)

type memberState struct {
	entries      map[uint64]*Entry
	maxGap       uint32
	ownerPID     string
	ownerAddress string
}

// Memory is an in-process Database, backed by plain maps behind a mutex.
// It is intended for tests and for single-process embedded use where
// durability across restarts is not required.
type Memory struct {
	mu      sync.Mutex
	members map[uint64]*memberState
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{members: make(map[uint64]*memberState)}
}

func (m *Memory) member(id uint64) *memberState {
	ms, ok := m.members[id]
	if !ok {
		ms = &memberState{entries: make(map[uint64]*Entry)}
		m.members[id] = ms
	}
	return ms
}

func (m *Memory) GetLast(memberID uint64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := m.member(memberID)
	var last *Entry
	for _, e := range ms.entries {
		if last == nil || e.Index > last.Index {
			last = e
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (m *Memory) Get(memberID, index uint64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.member(memberID).entries[index]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) Append(memberID, term, index uint64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := m.member(memberID)
	if _, ok := ms.entries[index]; ok {
		return fmt.Errorf("logdb: index %d already occupied for member %d", index, memberID)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	ms.entries[index] = &Entry{Term: term, Index: index, Payload: cp}
	return nil
}

func (m *Memory) Delete(memberID, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.member(memberID).entries, index)
	return nil
}

func (m *Memory) Count(memberID uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return uint64(len(m.member(memberID).entries)), nil
}

func (m *Memory) GetMaxGap(memberID uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.member(memberID).maxGap, nil
}

func (m *Memory) SetMaxGap(memberID uint64, gap uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.member(memberID).maxGap = gap
	return nil
}

func (m *Memory) GetOwnerPID(memberID uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.member(memberID).ownerPID, nil
}

func (m *Memory) SetOwnerPID(memberID uint64, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.member(memberID).ownerPID = pid
	return nil
}

func (m *Memory) GetOwnerAddress(memberID uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.member(memberID).ownerAddress, nil
}

func (m *Memory) SetOwnerAddress(memberID uint64, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.member(memberID).ownerAddress = addr
	return nil
}

func (m *Memory) Close() error { return nil }
