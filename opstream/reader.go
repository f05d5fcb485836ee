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

// Package opstream reads document operations from newline-delimited JSON,
// optionally gzip-compressed, for delivery by an idolcommitter.Committer.
//
// Each line holds one operation:
//
//	{"kind":"add","reference":"doc-1","metadata":{"title":["A"]},"content":"body"}
//	{"kind":"delete","reference":"doc-2"}
//
// Metadata values may be strings, numbers, booleans or arrays of those.
// Metadata field order is preserved.
package opstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"github.com/elastic/go-idolcommitter"
)

// MaxLineSize is the largest operation line accepted by Reader.
const MaxLineSize = 64 << 20

// Reader decodes operations from an NDJSON stream. It implements
// idolcommitter.Source and idolcommitter.Acknowledger.
type Reader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int

	read  atomic.Int64
	acked atomic.Int64
}

// NewReader returns a Reader decoding r. Gzip-compressed input is detected
// from its magic number and decompressed transparently.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	var closer io.Closer
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		src, closer = gz, gz
	}
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64<<10), MaxLineSize)
	return &Reader{scanner: scanner, closer: closer}, nil
}

// Next returns the next operation, or io.EOF at the end of the stream.
// Blank lines are ignored.
func (r *Reader) Next(ctx context.Context) (idolcommitter.Operation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return idolcommitter.Operation{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return idolcommitter.Operation{}, fmt.Errorf("failed to read line %d: %w", r.line+1, err)
			}
			return idolcommitter.Operation{}, io.EOF
		}
		r.line++
		line := r.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		op, err := decodeOperation(line)
		if err != nil {
			return idolcommitter.Operation{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		r.read.Add(1)
		return op, nil
	}
}

// Discard counts acknowledged operations.
func (r *Reader) Discard(ctx context.Context, ops []idolcommitter.Operation) error {
	r.acked.Add(int64(len(ops)))
	return nil
}

// Read returns the number of operations decoded so far.
func (r *Reader) Read() int64 {
	return r.read.Load()
}

// Acked returns the number of operations acknowledged so far.
func (r *Reader) Acked() int64 {
	return r.acked.Load()
}

// Close releases the decompressor, if any. The underlying reader is not
// closed.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Stream sends every remaining operation to ch and closes it. It returns
// nil at the end of the stream.
func (r *Reader) Stream(ctx context.Context, ch chan<- idolcommitter.Operation) error {
	defer close(ch)
	for {
		op, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case ch <- op:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Channel adapts a channel of operations to idolcommitter.Source. Next
// returns io.EOF once the channel is closed.
type Channel <-chan idolcommitter.Operation

// Next implements idolcommitter.Source.
func (c Channel) Next(ctx context.Context) (idolcommitter.Operation, error) {
	select {
	case op, ok := <-c:
		if !ok {
			return idolcommitter.Operation{}, io.EOF
		}
		return op, nil
	case <-ctx.Done():
		return idolcommitter.Operation{}, ctx.Err()
	}
}

func decodeOperation(line []byte) (idolcommitter.Operation, error) {
	var (
		op      idolcommitter.Operation
		content *string
	)
	iter := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, line)
	iter.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
		switch s {
		case "kind":
			switch kind := i.ReadString(); kind {
			case "add":
				op.Kind = idolcommitter.OperationAdd
			case "delete":
				op.Kind = idolcommitter.OperationDelete
			default:
				i.ReportError("kind", "unknown operation kind "+strconv.Quote(kind))
			}
		case "reference":
			op.Reference = i.ReadString()
		case "metadata":
			i.ReadObjectCB(func(i *jsoniter.Iterator, name string) bool {
				if i.WhatIsNext() == jsoniter.ArrayValue {
					i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
						op.Metadata.Add(name, readScalar(i))
						return true
					})
					return true
				}
				op.Metadata.Add(name, readScalar(i))
				return true
			})
		case "content":
			c := i.ReadString()
			content = &c
		default:
			i.Skip()
		}
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return idolcommitter.Operation{}, fmt.Errorf("failed to decode operation: %w", iter.Error)
	}
	if op.Kind == 0 {
		return idolcommitter.Operation{}, errors.New("operation kind is not set")
	}
	if op.Kind == idolcommitter.OperationAdd {
		if op.Reference == "" {
			op.Reference = op.Metadata.Get(idolcommitter.DefaultReferenceField)
		}
		if content != nil {
			op.Content = strings.NewReader(*content)
		}
	}
	return op, nil
}

func readScalar(i *jsoniter.Iterator) string {
	switch i.WhatIsNext() {
	case jsoniter.StringValue:
		return i.ReadString()
	case jsoniter.NumberValue:
		return i.ReadNumber().String()
	case jsoniter.BoolValue:
		return strconv.FormatBool(i.ReadBool())
	case jsoniter.NilValue:
		i.ReadNil()
		return ""
	}
	i.ReportError("metadata", "metadata values must be scalars or arrays of scalars")
	i.Skip()
	return ""
}
