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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	requestDuration metric.Float64Histogram
	requests        metric.Int64Counter
	docsAdded       metric.Int64Counter
	docsActive      metric.Int64UpDownCounter
	docsProcessed   metric.Int64Counter
	bytesTotal      metric.Int64Counter
	commits         metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-idolcommitter")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "idol.requests.latency",
			description: "The amount of time a request to the remote server took, in seconds.",
			unit:        "s",
			p:           &ms.requestDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "idol.requests.count",
			description: "The number of requests sent to the remote server. Dimensions report the action and outcome.",
			p:           &ms.requests,
		},
		{
			name:        "idol.operations.count",
			description: "The number of operations received for delivery.",
			p:           &ms.docsAdded,
		},
		{
			name:        "idol.operations.processed",
			description: "The number of operations delivered, failed or skipped. Dimensions report the operation kind and status.",
			p:           &ms.docsProcessed,
		},
		{
			name:        "idol.flushed.bytes",
			description: "The total number of bytes written to request bodies.",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
		{
			name:        "idol.commits.count",
			description: "The number of commit cycles completed.",
			p:           &ms.commits,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}

	active, err := meter.Int64UpDownCounter(
		"idol.operations.queued",
		metric.WithUnit("1"),
		metric.WithDescription("The number of operations buffered and waiting for delivery."),
	)
	if err != nil {
		return ms, fmt.Errorf("failed creating idol.operations.queued metric: %w", err)
	}
	ms.docsActive = active
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
