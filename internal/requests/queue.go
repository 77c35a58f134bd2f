/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package requests

import (
	"sync"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// AccessRequest is a pending ask for a time-bounded token, parked in the
// queue until an administrator grants it (or it is purged by a grant for the
// same address)
type AccessRequest struct {
	UserAddress *ethtypes.Address0xHex `json:"userAddress"`
	Resource    string                 `json:"resource"`
	Duration    uint64                 `json:"duration"` // seconds
	ReceivedAt  time.Time              `json:"receivedAt"`
}

// Queue is the in-memory, insertion-ordered request store. It holds no
// ledger state and is deliberately not durable - the ledger is the store
// of record, the queue is just the administrator's worklist.
//
// All access is serialized under one mutex, so snapshots and purges never
// observe a half-applied mutation.
type Queue struct {
	lock     sync.Mutex
	requests []*AccessRequest
}

func NewQueue() *Queue {
	return &Queue{}
}

// Append adds a request at the tail, preserving arrival order
func (q *Queue) Append(req *AccessRequest) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}
	q.requests = append(q.requests, req)
}

// List returns a point-in-time snapshot - the caller can range over it while
// other goroutines keep mutating the queue
func (q *Queue) List() []*AccessRequest {
	q.lock.Lock()
	defer q.lock.Unlock()
	snapshot := make([]*AccessRequest, len(q.requests))
	copy(snapshot, q.requests)
	return snapshot
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.requests)
}

// RemoveAllFor purges every queued request for the given address, returning
// how many were removed. Address matching is exact on the parsed form, so
// mixed-case hex spellings of the same address all match.
func (q *Queue) RemoveAllFor(addr *ethtypes.Address0xHex) int {
	q.lock.Lock()
	defer q.lock.Unlock()
	remaining := make([]*AccessRequest, 0, len(q.requests))
	removed := 0
	for _, req := range q.requests {
		if req.UserAddress != nil && *req.UserAddress == *addr {
			removed++
			continue
		}
		remaining = append(remaining, req)
	}
	q.requests = remaining
	return removed
}
