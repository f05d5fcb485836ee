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

package idoltest

import (
	"context"
	"sync"

	"github.com/elastic/go-idolcommitter"
)

// Acknowledger records the references of discarded operations.
type Acknowledger struct {
	mu      sync.Mutex
	batches [][]string

	// Err, if set, is returned from every Discard call.
	Err error
}

// Discard records the references of ops.
func (a *Acknowledger) Discard(ctx context.Context, ops []idolcommitter.Operation) error {
	refs := make([]string, len(ops))
	for i, op := range ops {
		refs[i] = op.Reference
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, refs)
	return a.Err
}

// Batches returns the references of each discarded batch.
func (a *Acknowledger) Batches() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.batches...)
}

// References returns every discarded reference, in discard order.
func (a *Acknowledger) References() []string {
	var refs []string
	for _, b := range a.Batches() {
		refs = append(refs, b...)
	}
	return refs
}
