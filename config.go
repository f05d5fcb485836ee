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
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elastic/go-idolcommitter/idolapi"
)

// DefaultBatchSize is the number of operations sent per request when
// Config.BatchSize is unset.
const DefaultBatchSize = 100

// Config holds configuration for Committer.
type Config struct {
	// Logger holds an optional Logger to use for logging delivery requests.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing requests to
	// the remote server. Each request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced with APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each request
	// is recorded as a span linked to the spans that produced its operations.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record committer metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// Transport holds the transport used to send requests.
	//
	// If Transport is nil, an elastic-transport client without retries is
	// created for the configured endpoint. Callers needing connect or read
	// timeouts should supply their own transport.
	Transport idolapi.Transport

	// Endpoint holds the remote server address.
	Endpoint EndpointConfig

	// BatchSize holds the number of operations after which a buffer is
	// flushed.
	//
	// If BatchSize is zero, the default of 100 will be used.
	BatchSize int

	// AddParams holds extra query parameters added to every DREADDDATA request.
	AddParams map[string]string

	// DeleteParams holds extra query parameters added to every DREDELETEREF request.
	DeleteParams map[string]string

	// FieldMapping controls how references and content are taken from
	// the document metadata.
	FieldMapping FieldMapping

	// FlushTimeout holds the timeout of a single request.
	//
	// If FlushTimeout is zero, no timeout will be used.
	FlushTimeout time.Duration

	// RequestsPerSecond limits the rate of requests sent to the remote
	// server.
	//
	// If RequestsPerSecond is zero, requests are not throttled.
	RequestsPerSecond float64

	// Acknowledger is notified of operations once their batch has been
	// delivered. It is typically the upstream queue, which discards them.
	Acknowledger Acknowledger
}

// EndpointConfig holds the remote server address. Exactly one of IndexPort
// and ConnectorPort must be set.
type EndpointConfig struct {
	// Host holds the server host name. A scheme may be included; plain
	// HTTP is assumed otherwise.
	Host string

	// IndexPort selects the index endpoint and its text wire format.
	IndexPort int

	// ConnectorPort selects the connector endpoint and its XML wire format.
	ConnectorPort int

	// DatabaseName holds the optional target database.
	DatabaseName string
}

// Validate returns a *ConfigurationError if the endpoint is not usable.
func (e EndpointConfig) Validate() error {
	switch {
	case e.Host == "":
		return &ConfigurationError{Reason: "host is not set"}
	case e.IndexPort < 0 || e.ConnectorPort < 0:
		return &ConfigurationError{Reason: "ports must not be negative"}
	case e.IndexPort > 0 && e.ConnectorPort > 0:
		return &ConfigurationError{Reason: fmt.Sprintf(
			"index port (%d) and connector port (%d) are mutually exclusive",
			e.IndexPort, e.ConnectorPort,
		)}
	case e.IndexPort == 0 && e.ConnectorPort == 0:
		return &ConfigurationError{Reason: "one of index port or connector port must be set"}
	}
	return nil
}

// IsConnector reports whether the endpoint is the connector endpoint.
func (e EndpointConfig) IsConnector() bool {
	return e.ConnectorPort > 0
}

// BaseURL returns the endpoint root URL, for example "http://x.com:9001/".
func (e EndpointConfig) BaseURL() (*url.URL, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	port := e.IndexPort
	if e.IsConnector() {
		port = e.ConnectorPort
	}
	var b strings.Builder
	if !strings.Contains(e.Host, "://") {
		b.WriteString("http://")
	}
	b.WriteString(strings.TrimRight(e.Host, "/"))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(port))
	b.WriteByte('/')
	raw := b.String()
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &MalformedRequestError{URL: raw, Err: err}
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &MalformedRequestError{URL: raw, Err: fmt.Errorf("unsupported scheme or empty host")}
	}
	return u, nil
}

// FieldMapping describes where the reference and content of an add
// operation come from and which remote fields receive them.
type FieldMapping struct {
	// IDSourceField names the metadata field holding the reference.
	// Defaults to "document.reference"; the operation reference is used
	// when the field is absent.
	IDSourceField string

	// KeepIDSourceField keeps the source field as a regular field after
	// the reference has been taken from it.
	KeepIDSourceField bool

	// IDTargetField names the remote reference field. Defaults to
	// DREREFERENCE. Any other name sends the reference as a regular field.
	IDTargetField string

	// ContentSourceField names a metadata field whose values replace the
	// document content. The content stream is used when empty.
	ContentSourceField string

	// KeepContentSourceField keeps the content source field as a regular
	// field after mapping.
	KeepContentSourceField bool

	// ContentTargetField names the remote content field. Defaults to
	// DRECONTENT. A metadata field with this name is never sent as a
	// regular field.
	ContentTargetField string
}

func (m FieldMapping) withDefaults() FieldMapping {
	if m.IDTargetField == "" {
		m.IDTargetField = DefaultReferenceTarget
	}
	if m.ContentTargetField == "" {
		m.ContentTargetField = DefaultContentTarget
	}
	return m
}
