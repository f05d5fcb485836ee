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

import (
	"context"
	"io"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/trace"
)

// DefaultReferenceField is the metadata field holding the document reference
// when no custom reference source field is configured.
const DefaultReferenceField = "document.reference"

// OperationKind identifies the type of an Operation.
type OperationKind uint8

const (
	// OperationAdd adds or replaces a document in the remote index.
	OperationAdd OperationKind = iota + 1
	// OperationDelete removes a document by reference.
	OperationDelete
)

func (k OperationKind) String() string {
	switch k {
	case OperationAdd:
		return "add"
	case OperationDelete:
		return "delete"
	}
	return "unknown"
}

// Operation is a single document operation produced by the upstream queue.
//
// Add operations carry metadata and a content body. Delete operations only
// carry the reference.
type Operation struct {
	Kind      OperationKind
	Reference string
	Metadata  Metadata

	// Content holds the document body of an add operation. It is read
	// once, when the operation is added to the committer, and closed
	// afterwards if it implements io.Closer.
	Content io.Reader

	link *linkedTraceContext
}

// NewAddOperation returns an add Operation.
func NewAddOperation(reference string, metadata Metadata, content io.Reader) Operation {
	return Operation{
		Kind:      OperationAdd,
		Reference: reference,
		Metadata:  metadata,
		Content:   content,
	}
}

// NewDeleteOperation returns a delete Operation.
func NewDeleteOperation(reference string) Operation {
	return Operation{Kind: OperationDelete, Reference: reference}
}

// withTraceLink records the trace context active in ctx so the request that
// eventually delivers the operation can be linked back to its producer.
func (op Operation) withTraceLink(ctx context.Context) Operation {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		op.link = newLinkedTraceIDFromOTEL(sc)
	} else if tx := apm.TransactionFromContext(ctx); tx != nil {
		op.link = newLinkedTraceContextFromAPM(tx.TraceContext())
	}
	return op
}

// Metadata is an ordered, multi-valued mapping of field names to values.
// Field names are case-sensitive; insertion order of names and values is
// preserved. The zero value is ready to use.
type Metadata struct {
	names  []string
	values map[string][]string
}

// Add appends values to the field name, creating the field if needed.
func (m *Metadata) Add(name string, values ...string) {
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	if _, ok := m.values[name]; !ok {
		m.names = append(m.names, name)
		m.values[name] = nil
	}
	m.values[name] = append(m.values[name], values...)
}

// Set replaces all values of the field name.
func (m *Metadata) Set(name string, values ...string) {
	m.Delete(name)
	m.Add(name, values...)
}

// Delete removes the field name.
func (m *Metadata) Delete(name string) {
	if _, ok := m.values[name]; !ok {
		return
	}
	delete(m.values, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i:i], m.names[i+1:]...)
			break
		}
	}
}

// Get returns the first value of the field name, or "" if there is none.
func (m Metadata) Get(name string) string {
	if v := m.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns the values of the field name in insertion order.
func (m Metadata) Values(name string) []string {
	return m.values[name]
}

// Has reports whether the field name is present.
func (m Metadata) Has(name string) bool {
	_, ok := m.values[name]
	return ok
}

// Names returns the field names in insertion order.
func (m Metadata) Names() []string {
	return m.names
}

// Len returns the number of fields.
func (m Metadata) Len() int {
	return len(m.names)
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	var c Metadata
	for _, name := range m.names {
		c.Add(name, m.values[name]...)
	}
	return c
}
