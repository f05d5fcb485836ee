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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/elastic/go-idolcommitter/idolapi"
)

var errInvalidResponseEncoding = errors.New("response body is not valid UTF-8")

// ClientConfig holds configuration for Client.
type ClientConfig struct {
	Endpoint EndpointConfig

	// Transport holds the transport used to send requests. If nil, a
	// transport is created with idolapi.NewTransport.
	Transport idolapi.Transport

	// AddParams holds extra query parameters for DREADDDATA requests.
	AddParams map[string]string

	// DeleteParams holds extra query parameters for DREDELETEREF requests.
	DeleteParams map[string]string

	// RequestsPerSecond limits the request rate. Zero disables throttling.
	RequestsPerSecond float64
}

// Ack is a successful acknowledgement from the remote server.
type Ack struct {
	// Body holds the raw response body.
	Body string

	// IndexID holds the INDEXID reported by the index endpoint, or zero.
	IndexID int64
}

// Client sends encoded batches to the index or connector endpoint. Requests
// are synchronous and never retried.
type Client struct {
	endpoint     EndpointConfig
	base         *url.URL
	transport    idolapi.Transport
	addQuery     string
	deleteQuery  string
	limiter      *rate.Limiter
	successToken string
}

// NewClient returns a Client for the configured endpoint. The endpoint is
// validated before anything else, so a misconfigured client never sends a
// request.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := cfg.Endpoint.BaseURL()
	if err != nil {
		return nil, err
	}
	transport := cfg.Transport
	if transport == nil {
		if transport, err = idolapi.NewTransport(base, nil); err != nil {
			return nil, &ConfigurationError{Reason: "failed to create transport: " + err.Error()}
		}
	}
	c := &Client{
		endpoint:     cfg.Endpoint,
		base:         base,
		transport:    transport,
		addQuery:     encodeParams(cfg.AddParams),
		deleteQuery:  encodeParams(cfg.DeleteParams),
		successToken: idolapi.IndexSuccessToken,
	}
	if cfg.Endpoint.IsConnector() {
		c.successToken = idolapi.ConnectorSuccessToken
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// BaseURL returns the endpoint root URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// PostAdds sends an encoded add batch.
func (c *Client) PostAdds(ctx context.Context, payload []byte) (Ack, error) {
	if c.endpoint.IsConnector() {
		body := "adds=" + url.QueryEscape(string(payload))
		return c.post(ctx, c.connectorURL(""), strings.NewReader(body))
	}
	return c.post(ctx, c.indexURL(idolapi.ActionAddData, c.addQuery), bytes.NewReader(payload))
}

// PostDeletes sends a joined list of encoded delete references.
func (c *Client) PostDeletes(ctx context.Context, refs string) (Ack, error) {
	if c.endpoint.IsConnector() {
		return c.post(ctx, c.connectorURL("removes="+refs), nil)
	}
	query := "Docs=" + refs
	if c.endpoint.DatabaseName != "" {
		query += "&DREDbName=" + url.QueryEscape(c.endpoint.DatabaseName)
	}
	if c.deleteQuery != "" {
		query += "&" + c.deleteQuery
	}
	return c.post(ctx, c.indexURL(idolapi.ActionDeleteRef, query), nil)
}

// Sync asks the index endpoint to make recent changes visible. The connector
// endpoint has no equivalent command, so Sync succeeds without a request.
func (c *Client) Sync(ctx context.Context) (Ack, error) {
	if c.endpoint.IsConnector() {
		return Ack{}, nil
	}
	return c.post(ctx, c.indexURL(idolapi.ActionSync, ""), nil)
}

func (c *Client) indexURL(action, query string) string {
	u := c.base.String() + action
	if query != "" {
		u += "?" + query
	}
	return u
}

func (c *Client) connectorURL(query string) string {
	u := c.base.String() + "?action=" + idolapi.ActionIngest
	if query != "" {
		u += "&" + query
	}
	return u
}

func (c *Client) post(ctx context.Context, rawURL string, body io.Reader) (Ack, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Ack{}, &MalformedRequestError{URL: rawURL, Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Ack{}, &TransportError{URL: rawURL, Err: err}
		}
	}
	res, err := idolapi.Request{URL: u, Body: body}.Do(ctx, c.transport)
	if err != nil {
		return Ack{}, &TransportError{URL: rawURL, Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Ack{}, &TransportError{URL: rawURL, Err: err}
	}
	if !utf8.Valid(data) {
		return Ack{}, &TransportError{URL: rawURL, Err: errInvalidResponseEncoding}
	}
	text := string(data)
	if res.StatusCode >= http.StatusBadRequest || !strings.Contains(text, c.successToken) {
		return Ack{}, &ProtocolError{URL: rawURL, StatusCode: res.StatusCode, Body: text}
	}
	return Ack{Body: text, IndexID: parseIndexID(text)}, nil
}

// parseIndexID returns the number following "INDEXID=", or zero.
func parseIndexID(body string) int64 {
	_, rest, ok := strings.Cut(body, idolapi.IndexSuccessToken+"=")
	if !ok {
		return 0
	}
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	id, _ := strconv.ParseInt(rest[:end], 10, 64)
	return id
}

// encodeParams encodes params as a query string with sorted keys.
func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
