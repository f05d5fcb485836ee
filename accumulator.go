// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package idolcommitter

import "sync"

// BatchItem is an encoded operation waiting to be delivered.
type BatchItem struct {
	Operation Operation

	// Encoded holds the wire fragment of an add operation, or the encoded
	// reference of a delete operation.
	Encoded []byte
}

// Accumulator buffers add and delete operations separately until a batch is
// full or the stream completes.
//
// Each buffer has its own lock. Appending and flushing a buffer are mutually
// exclusive: producers block while the buffer is being flushed, and only one
// flush runs per buffer at a time.
type Accumulator struct {
	batchSize int
	adds      batchBuffer
	deletes   batchBuffer
}

type batchBuffer struct {
	mu    sync.Mutex
	items []BatchItem
}

// NewAccumulator returns an Accumulator flushing every batchSize items. A
// batchSize lower than 1 is treated as 1.
func NewAccumulator(batchSize int) *Accumulator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Accumulator{batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (a *Accumulator) BatchSize() int {
	return a.batchSize
}

// AppendAdd buffers an encoded add operation and reports whether the add
// buffer reached the batch size.
func (a *Accumulator) AppendAdd(item BatchItem) bool {
	return a.adds.append(item, a.batchSize)
}

// AppendDelete buffers an encoded delete operation and reports whether the
// delete buffer reached the batch size.
func (a *Accumulator) AppendDelete(item BatchItem) bool {
	return a.deletes.append(item, a.batchSize)
}

// AddBatchFull reports whether the add buffer holds at least a full batch.
func (a *Accumulator) AddBatchFull() bool {
	return a.adds.len() >= a.batchSize
}

// DeleteBatchFull reports whether the delete buffer holds at least a full batch.
func (a *Accumulator) DeleteBatchFull() bool {
	return a.deletes.len() >= a.batchSize
}

// DrainAdds removes and returns the oldest batch of add operations.
func (a *Accumulator) DrainAdds() []BatchItem {
	return a.adds.drain(a.batchSize)
}

// DrainDeletes removes and returns the oldest batch of delete operations.
func (a *Accumulator) DrainDeletes() []BatchItem {
	return a.deletes.drain(a.batchSize)
}

// HasPending reports whether any operation is buffered.
func (a *Accumulator) HasPending() bool {
	return a.adds.len() > 0 || a.deletes.len() > 0
}

// Pending returns the number of buffered add and delete operations.
func (a *Accumulator) Pending() (adds, deletes int) {
	return a.adds.len(), a.deletes.len()
}

// FlushAdds sends buffered add operations in batches of at most BatchSize
// items, oldest first. When force is false, only full batches are sent.
//
// A batch is removed from the buffer only once send returns nil; on error
// the batch stays buffered, in order, and FlushAdds returns the error.
func (a *Accumulator) FlushAdds(force bool, send func([]BatchItem) error) error {
	return a.adds.flush(a.batchSize, force, send)
}

// FlushDeletes is the delete counterpart of FlushAdds.
func (a *Accumulator) FlushDeletes(force bool, send func([]BatchItem) error) error {
	return a.deletes.flush(a.batchSize, force, send)
}

func (b *batchBuffer) append(item BatchItem, size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items) >= size
}

func (b *batchBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *batchBuffer) drain(size int) []BatchItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(size, len(b.items))
	if n == 0 {
		return nil
	}
	batch := make([]BatchItem, n)
	copy(batch, b.items)
	b.items = b.remove(n)
	return batch
}

func (b *batchBuffer) flush(size int, force bool, send func([]BatchItem) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) >= size || (force && len(b.items) > 0) {
		n := min(size, len(b.items))
		if err := send(b.items[:n:n]); err != nil {
			return err
		}
		b.items = b.remove(n)
	}
	return nil
}

// remove drops the first n items, releasing the backing array once empty.
func (b *batchBuffer) remove(n int) []BatchItem {
	if n == len(b.items) {
		return nil
	}
	rest := make([]BatchItem, len(b.items)-n)
	copy(rest, b.items[n:])
	return rest
}
