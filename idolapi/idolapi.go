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

// Package idolapi contains the minimal request plumbing needed to talk to an
// IDOL index or connector endpoint over HTTP.
package idolapi

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.elastic.co/apm/module/apmhttp/v2"
)

// Index endpoint actions.
const (
	ActionAddData   = "DREADDDATA"
	ActionDeleteRef = "DREDELETEREF"
	ActionSync      = "DRESYNC"
)

// ActionIngest is the connector endpoint action for adds and removes.
const ActionIngest = "ingest"

// Success tokens expected in acknowledgement bodies.
const (
	IndexSuccessToken     = "INDEXID"
	ConnectorSuccessToken = "SUCCESS"
)

// Transport defines the interface for an API client.
type Transport interface {
	Perform(*http.Request) (*http.Response, error)
}

// NewTransport returns an elastic-transport client sending every request to
// the scheme and host of u. Retries are disabled: a request is sent exactly
// once and callers decide whether to resend it.
//
// If rt is nil, http.DefaultTransport is used. The round tripper is
// instrumented with APM.
func NewTransport(u *url.URL, rt http.RoundTripper) (Transport, error) {
	if rt == nil {
		rt = http.DefaultTransport
	}
	// The transport joins its own path with the request path, so only the
	// scheme and host are configured.
	root := &url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User}
	client, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{root},
		Transport:    apmhttp.WrapRoundTripper(rt),
		DisableRetry: true,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Request is a single POST request to the remote server.
type Request struct {
	// URL holds the full request URL, including query parameters.
	URL *url.URL

	// Body holds the optional request payload.
	Body io.Reader

	Header http.Header
}

// Do executes the request using the transport.
func (r Request) Do(ctx context.Context, transport Transport) (*http.Response, error) {
	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return transport.Perform(req)
}
