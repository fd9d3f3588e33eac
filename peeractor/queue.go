// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package peeractor

import (
	"errors"
	"time"

	"github.com/torrentd/peerstack/layout"
)

// ErrFull is returned when a queue's byte cap has been reached.
var ErrFull = errors.New("peeractor: queue byte limit reached")

// ErrCancelled is returned to callers awaiting a request that was aborted
// by actor shutdown, distinguished so callers can
// tell a cancellation from a protocol failure if they care to.
var ErrCancelled = errors.New("peeractor: cancelled")

// Result is delivered on the channel returned by Actor.Request once the
// block arrives, the request times out, or the actor is cancelled.
type Result struct {
	Data []byte
	Err  error
}

// outgoingRequest tracks one block we asked the peer for.
type outgoingRequest struct {
	r      layout.BlockRange
	result chan Result
	sentAt time.Time
}

// outgoingQueue is the byte-capped set of requests we have sent to the
// peer and are awaiting a Piece reply for.
type outgoingQueue struct {
	limit   int64
	used    int64
	byRange map[layout.BlockRange]*outgoingRequest
}

func newOutgoingQueue(limit int64) *outgoingQueue {
	return &outgoingQueue{limit: limit, byRange: make(map[layout.BlockRange]*outgoingRequest)}
}

// add enqueues r. It returns (nil, nil) if r is already outstanding
// (duplicate), (nil, ErrFull) if admitting r would exceed the byte cap,
// else a channel that will receive exactly one Result.
func (q *outgoingQueue) add(r layout.BlockRange, now time.Time) (chan Result, error) {
	if _, ok := q.byRange[r]; ok {
		return nil, nil
	}
	if q.used+r.Size > q.limit {
		return nil, ErrFull
	}
	ch := make(chan Result, 1)
	q.byRange[r] = &outgoingRequest{r: r, result: ch, sentAt: now}
	q.used += r.Size
	return ch, nil
}

// resolve delivers data for a previously-added range, if still pending.
// Reports whether a matching request was found.
func (q *outgoingQueue) resolve(r layout.BlockRange, data []byte) bool {
	req, ok := q.byRange[r]
	if !ok {
		return false
	}
	delete(q.byRange, r)
	q.used -= r.Size
	req.result <- Result{Data: data}
	return true
}

// remove cancels a previously-added range (e.g. on Cancel or Reject from
// the peer), delivering err to its waiter if it was still pending.
func (q *outgoingQueue) remove(r layout.BlockRange, err error) {
	req, ok := q.byRange[r]
	if !ok {
		return
	}
	delete(q.byRange, r)
	q.used -= r.Size
	req.result <- Result{Err: err}
}

// expireOlderThan pops every request whose sentAt is older than timeout as of now,
// delivering ErrRequestTimeout to each.
func (q *outgoingQueue) expireOlderThan(now time.Time, timeout time.Duration) {
	for r, req := range q.byRange {
		if now.Sub(req.sentAt) >= timeout {
			delete(q.byRange, r)
			q.used -= r.Size
			req.result <- Result{Err: ErrRequestTimeout}
		}
	}
}

// drain fails every outstanding request with err, used on actor shutdown.
func (q *outgoingQueue) drain(err error) {
	for r, req := range q.byRange {
		delete(q.byRange, r)
		q.used -= r.Size
		req.result <- Result{Err: err}
	}
}

// ErrRequestTimeout is delivered to a Request's result channel when the
// peer does not answer within Config.RequestTimeout.
var ErrRequestTimeout = errors.New("peeractor: request timed out")

// IncomingRequest is a block the peer asked us for. The consumer must call
// exactly one of Serve or Reject.
type IncomingRequest struct {
	Block   layout.BlockRange
	acceptedAt time.Time
	serve   func([]byte)
	reject  func()
}

// Serve answers the request with data, which must be Block.Size bytes.
func (ir IncomingRequest) Serve(data []byte) { ir.serve(data) }

// Reject answers the request with a Reject message.
func (ir IncomingRequest) Reject() { ir.reject() }

// incomingQueue is the byte-capped set of requests the peer has sent us
// that are awaiting a Piece or Reject reply.
type incomingQueue struct {
	limit int64
	used  int64
	items map[layout.BlockRange]time.Time
}

func newIncomingQueue(limit int64) *incomingQueue {
	return &incomingQueue{limit: limit, items: make(map[layout.BlockRange]time.Time)}
}

// admit reports whether r fits under the byte cap, reserving its bytes if so.
func (q *incomingQueue) admit(r layout.BlockRange, now time.Time) bool {
	if q.used+r.Size > q.limit {
		return false
	}
	q.items[r] = now
	q.used += r.Size
	return true
}

func (q *incomingQueue) remove(r layout.BlockRange) {
	if _, ok := q.items[r]; ok {
		delete(q.items, r)
		q.used -= r.Size
	}
}

// expired returns every range admitted before now-timeout, without
// removing them (the caller removes via remove() once it has sent Reject).
func (q *incomingQueue) expired(now time.Time, timeout time.Duration) []layout.BlockRange {
	var out []layout.BlockRange
	for r, at := range q.items {
		if now.Sub(at) >= timeout {
			out = append(out, r)
		}
	}
	return out
}
