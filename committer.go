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
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elastic/go-idolcommitter/idolapi"
)

// Acknowledger is notified of operations once the request carrying them has
// been acknowledged by the remote server. The upstream queue implements it to
// discard delivered operations.
//
// Acknowledgement is not transactional with delivery: an interruption
// between the two leads to the operations being delivered again.
type Acknowledger interface {
	Discard(ctx context.Context, ops []Operation) error
}

// Source provides operations to Committer.Run. Next returns io.EOF once no
// more operations are available.
type Source interface {
	Next(ctx context.Context) (Operation, error)
}

// CommitState is the position of the Committer within a commit cycle.
type CommitState int32

const (
	StateIdle CommitState = iota
	StateDeletesPending
	StateAddsPending
	StateSynced
)

func (s CommitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeletesPending:
		return "deletes_pending"
	case StateAddsPending:
		return "adds_pending"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

// Stats holds Committer statistics.
type Stats struct {
	// Added holds the number of add operations accepted.
	Added int64

	// Deleted holds the number of delete operations accepted.
	Deleted int64

	// Skipped holds the number of operations dropped because they could
	// not be encoded.
	Skipped int64

	// Active holds the number of operations buffered and not yet delivered.
	Active int64

	// Delivered holds the number of operations acknowledged by the server.
	Delivered int64

	// Requests holds the number of requests sent, including syncs.
	Requests int64

	// FailedRequests holds the number of requests which returned an error.
	FailedRequests int64

	// Commits holds the number of completed commit cycles.
	Commits int64

	// BytesTotal holds the number of bytes sent in request bodies.
	BytesTotal int64
}

// Committer delivers add and delete operations to a remote index.
//
// Operations are encoded as soon as they are added and buffered per kind.
// When a buffer reaches Config.BatchSize it is flushed synchronously by the
// goroutine that filled it; Commit flushes whatever remains, deletes before
// adds, and then syncs the index. Only one request is in flight at a time.
type Committer struct {
	added, deleted, skipped  atomic.Int64
	active, delivered        atomic.Int64
	requests, failedRequests atomic.Int64
	commits, bytesTotal      atomic.Int64
	state                    atomic.Int32

	config  Config
	client  *Client
	encoder Encoder
	acc     *Accumulator
	metrics metrics

	// deliveryMu serializes requests. It is always taken before a buffer lock.
	deliveryMu sync.Mutex
	// dirty is set once a batch has been delivered since the last sync.
	dirty bool

	closeMu sync.RWMutex
	closed  bool

	// tracer is an OTel tracer, and should not be confused with `c.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// New returns a new Committer. The endpoint configuration is validated
// before anything else; a *ConfigurationError is returned when it is invalid.
func New(cfg Config) (*Committer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.FieldMapping = cfg.FieldMapping.withDefaults()

	client, err := NewClient(ClientConfig{
		Endpoint:          cfg.Endpoint,
		Transport:         cfg.Transport,
		AddParams:         cfg.AddParams,
		DeleteParams:      cfg.DeleteParams,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	c := &Committer{
		config:  cfg,
		client:  client,
		encoder: NewEncoder(cfg.Endpoint, cfg.FieldMapping),
		acc:     NewAccumulator(cfg.BatchSize),
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		c.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-idolcommitter")
	}
	return c, nil
}

// Add encodes op and buffers it for delivery. If the buffer for the
// operation kind becomes full, it is flushed before Add returns.
//
// If op cannot be encoded, it is logged and skipped and an *EncodingError
// is returned; buffered operations are unaffected. If the flush fails, the
// operation stays buffered and the delivery error is returned.
func (c *Committer) Add(ctx context.Context, op Operation) error {
	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		return ErrClosed
	}
	full, err := c.enqueue(ctx, op)
	c.closeMu.RUnlock()
	if err != nil || !full {
		return err
	}

	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()
	defer c.state.Store(int32(StateIdle))
	logger := c.config.Logger
	// Pending deletes always go before adds.
	if err := c.flushDeletes(ctx, logger, op.Kind == OperationAdd); err != nil {
		return err
	}
	if op.Kind == OperationAdd {
		return c.flushAdds(ctx, logger, false)
	}
	return nil
}

// CommitBatch runs a commit cycle over ops. Operations are partitioned into
// deletes and adds, preserving their relative order, and delivered in
// batches of at most Config.BatchSize: all deletes first, then all adds,
// then a sync. Operations already buffered are included in the cycle.
func (c *Committer) CommitBatch(ctx context.Context, ops []Operation) error {
	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		return ErrClosed
	}
	var skipped []error
	for _, op := range ops {
		if _, err := c.enqueue(ctx, op); err != nil {
			skipped = append(skipped, err)
		}
	}
	c.closeMu.RUnlock()

	if err := c.Commit(ctx); err != nil {
		return err
	}
	if len(skipped) > 0 {
		return fmt.Errorf("skipped %d operations: %w", len(skipped), errors.Join(skipped...))
	}
	return nil
}

// Commit flushes all buffered operations, deletes first, and syncs the
// remote index. Nothing is sent when no operation is pending and nothing
// has been delivered since the last sync.
//
// On error the cycle is aborted: undelivered operations stay buffered and a
// later Commit resends them.
func (c *Committer) Commit(ctx context.Context) error {
	c.closeMu.RLock()
	closed := c.closed
	c.closeMu.RUnlock()
	if closed {
		return ErrClosed
	}
	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()
	return c.commit(ctx)
}

// Run adds every operation read from src until it returns io.EOF, then
// commits. Operations that cannot be encoded are skipped.
func (c *Committer) Run(ctx context.Context, src Source) error {
	for {
		op, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return c.Commit(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to read operation: %w", err)
		}
		if err := c.Add(ctx, op); err != nil {
			var encErr *EncodingError
			if errors.As(err, &encErr) {
				continue
			}
			return err
		}
	}
}

// Close commits any pending operations and closes the committer. Add and
// Commit calls made after Close return ErrClosed.
func (c *Committer) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()
	if err := c.commit(ctx); err != nil {
		return fmt.Errorf("failed to commit operations on close: %w", err)
	}
	return nil
}

// State returns the current commit cycle state.
func (c *Committer) State() CommitState {
	return CommitState(c.state.Load())
}

// Stats returns the committer statistics.
func (c *Committer) Stats() Stats {
	return Stats{
		Added:          c.added.Load(),
		Deleted:        c.deleted.Load(),
		Skipped:        c.skipped.Load(),
		Active:         c.active.Load(),
		Delivered:      c.delivered.Load(),
		Requests:       c.requests.Load(),
		FailedRequests: c.failedRequests.Load(),
		Commits:        c.commits.Load(),
		BytesTotal:     c.bytesTotal.Load(),
	}
}

// enqueue encodes op and appends it to its buffer, reporting whether the
// buffer is full.
func (c *Committer) enqueue(ctx context.Context, op Operation) (bool, error) {
	var (
		encoded []byte
		err     error
	)
	switch op.Kind {
	case OperationAdd:
		encoded, err = c.encoder.EncodeAdd(op)
	case OperationDelete:
		var token string
		token, err = c.encoder.EncodeDelete(op)
		encoded = []byte(token)
	default:
		return false, fmt.Errorf("%w: %d", errUnknownOperation, op.Kind)
	}
	if err != nil {
		c.skip(ctx, op, err)
		return false, err
	}

	// The content has been consumed by the encoder.
	op.Content = nil
	item := BatchItem{Operation: op.withTraceLink(ctx), Encoded: encoded}
	attrs := metric.WithAttributeSet(c.config.MetricAttributes)
	kind := metric.WithAttributes(attribute.String("kind", op.Kind.String()))
	c.metrics.docsAdded.Add(context.Background(), 1, attrs, kind)
	c.metrics.docsActive.Add(context.Background(), 1, attrs)
	c.active.Add(1)
	if op.Kind == OperationAdd {
		c.added.Add(1)
		return c.acc.AppendAdd(item), nil
	}
	c.deleted.Add(1)
	return c.acc.AppendDelete(item), nil
}

func (c *Committer) skip(ctx context.Context, op Operation, err error) {
	c.skipped.Add(1)
	c.metrics.docsProcessed.Add(
		context.Background(), 1,
		metric.WithAttributeSet(c.config.MetricAttributes),
		metric.WithAttributes(
			attribute.String("kind", op.Kind.String()),
			attribute.String("status", "Skipped"),
		),
	)
	c.config.Logger.Warn("skipping operation which could not be encoded",
		zap.String("reference", op.Reference),
		zap.Stringer("kind", op.Kind),
		zap.Error(err),
	)
}

// commit must be called with deliveryMu held.
func (c *Committer) commit(ctx context.Context) error {
	if !c.acc.HasPending() && !c.dirty {
		return nil
	}
	logger := c.config.Logger.With(zap.String("cycle.id", uuid.NewString()))
	defer c.state.Store(int32(StateIdle))

	adds, deletes := c.acc.Pending()
	logger.Debug("starting commit cycle",
		zap.Int("adds", adds),
		zap.Int("deletes", deletes),
	)
	if err := c.flushDeletes(ctx, logger, true); err != nil {
		logger.Error("commit aborted while sending deletions", zap.Error(err))
		return err
	}
	if err := c.flushAdds(ctx, logger, true); err != nil {
		logger.Error("commit aborted while sending additions", zap.Error(err))
		return err
	}
	if !c.config.Endpoint.IsConnector() {
		if err := c.deliver(ctx, logger, idolapi.ActionSync, nil, func(ctx context.Context) (Ack, int, error) {
			ack, err := c.client.Sync(ctx)
			return ack, 0, err
		}); err != nil {
			logger.Error("commit aborted while syncing", zap.Error(err))
			return err
		}
	}
	c.dirty = false
	c.state.Store(int32(StateSynced))
	c.commits.Add(1)
	c.metrics.commits.Add(context.Background(), 1, metric.WithAttributeSet(c.config.MetricAttributes))
	logger.Info("commit completed",
		zap.Int("adds", adds),
		zap.Int("deletes", deletes),
	)
	return nil
}

func (c *Committer) flushDeletes(ctx context.Context, logger *zap.Logger, force bool) error {
	c.state.Store(int32(StateDeletesPending))
	var ackErrs []error
	err := c.acc.FlushDeletes(force, func(batch []BatchItem) error {
		tokens := make([]string, len(batch))
		for i, item := range batch {
			tokens[i] = string(item.Encoded)
		}
		refs := c.encoder.JoinDeletes(tokens)
		action := idolapi.ActionDeleteRef
		if c.config.Endpoint.IsConnector() {
			action = idolapi.ActionIngest
		}
		return c.deliverBatch(ctx, logger, action, OperationDelete, batch, &ackErrs, func(ctx context.Context) (Ack, int, error) {
			ack, err := c.client.PostDeletes(ctx, refs)
			return ack, 0, err
		})
	})
	return errors.Join(append([]error{err}, ackErrs...)...)
}

func (c *Committer) flushAdds(ctx context.Context, logger *zap.Logger, force bool) error {
	c.state.Store(int32(StateAddsPending))
	var ackErrs []error
	err := c.acc.FlushAdds(force, func(batch []BatchItem) error {
		fragments := make([][]byte, len(batch))
		for i, item := range batch {
			fragments[i] = item.Encoded
		}
		payload := c.encoder.EncodeBatch(fragments)
		action := idolapi.ActionAddData
		if c.config.Endpoint.IsConnector() {
			action = idolapi.ActionIngest
		}
		return c.deliverBatch(ctx, logger, action, OperationAdd, batch, &ackErrs, func(ctx context.Context) (Ack, int, error) {
			ack, err := c.client.PostAdds(ctx, payload)
			return ack, len(payload), err
		})
	})
	return errors.Join(append([]error{err}, ackErrs...)...)
}

// deliverBatch sends a batch and acknowledges it upstream. A failed
// acknowledgement is collected in ackErrs rather than returned, since the
// batch was applied remotely and must leave the buffer.
func (c *Committer) deliverBatch(
	ctx context.Context,
	logger *zap.Logger,
	action string,
	kind OperationKind,
	batch []BatchItem,
	ackErrs *[]error,
	send func(context.Context) (Ack, int, error),
) error {
	n := len(batch)
	attrs := metric.WithAttributeSet(c.config.MetricAttributes)
	kindAttr := attribute.String("kind", kind.String())
	if err := c.deliver(ctx, logger, action, batch, send); err != nil {
		c.metrics.docsProcessed.Add(context.Background(), int64(n), attrs,
			metric.WithAttributes(kindAttr, attribute.String("status", "Failed")),
		)
		return err
	}
	c.dirty = true
	c.active.Add(-int64(n))
	c.delivered.Add(int64(n))
	c.metrics.docsActive.Add(context.Background(), -int64(n), attrs)
	c.metrics.docsProcessed.Add(context.Background(), int64(n), attrs,
		metric.WithAttributes(kindAttr, attribute.String("status", "Success")),
	)
	if c.config.Acknowledger == nil {
		return nil
	}
	ops := make([]Operation, n)
	for i, item := range batch {
		ops[i] = item.Operation
	}
	if err := c.config.Acknowledger.Discard(ctx, ops); err != nil {
		logger.Error("failed to acknowledge delivered operations",
			zap.Int("documents", n),
			zap.Error(err),
		)
		*ackErrs = append(*ackErrs, fmt.Errorf("failed to acknowledge %d delivered operations: %w", n, err))
	}
	return nil
}

// deliver sends a single request, recording metrics and traces.
func (c *Committer) deliver(
	ctx context.Context,
	logger *zap.Logger,
	action string,
	batch []BatchItem,
	send func(context.Context) (Ack, int, error),
) error {
	n := len(batch)
	apmLinks, otelLinks := batchLinks(batch)
	var tx *apm.Transaction
	if c.config.Tracer != nil {
		tx = c.config.Tracer.StartTransactionOptions("idolcommitter."+action, "output",
			apm.TransactionOptions{Links: apmLinks},
		)
		tx.Context.SetLabel("documents", n)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "idolcommitter.request", trace.WithLinks(otelLinks...),
			trace.WithAttributes(
				attribute.String("action", action),
				attribute.Int("documents", n),
			),
		)
		defer span.End()

		// Add trace IDs to logger, to associate any errors below with the trace.
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}
	if c.config.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.FlushTimeout)
		defer cancel()
	}

	logger.Debug("sending request", zap.String("action", action), zap.Int("documents", n))
	var (
		ack  Ack
		size int
		err  error
	)
	took := timeFunc(func() {
		ack, size, err = send(ctx)
	})

	attrs := metric.WithAttributeSet(c.config.MetricAttributes)
	actionAttr := attribute.String("action", action)
	c.requests.Add(1)
	c.bytesTotal.Add(int64(size))
	c.metrics.bytesTotal.Add(context.Background(), int64(size), attrs)
	c.metrics.requestDuration.Record(context.Background(), took.Seconds(), attrs,
		metric.WithAttributes(actionAttr),
	)
	if err != nil {
		c.failedRequests.Add(1)
		c.metrics.requests.Add(context.Background(), 1, attrs,
			metric.WithAttributes(actionAttr, attribute.String("status", "Failed")),
		)
		logger.Error("request to remote server failed",
			zap.String("action", action),
			zap.Int("documents", n),
			zap.Error(err),
		)
		if span != nil && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
		}
		if tx != nil {
			tx.Result = "failure"
			tx.Outcome = "failure"
			apm.CaptureError(ctx, err).Send()
		}
		return err
	}
	c.metrics.requests.Add(context.Background(), 1, attrs,
		metric.WithAttributes(actionAttr, attribute.String("status", "Success")),
	)
	logger.Debug("request completed",
		zap.String("action", action),
		zap.Int("documents", n),
		zap.Int64("index_id", ack.IndexID),
		zap.Duration("took", took),
	)
	if span != nil && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	if tx != nil {
		tx.Result = "success"
		tx.Outcome = "success"
	}
	return nil
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
