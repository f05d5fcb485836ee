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

// Package idoltest provides a mock IDOL server and payload decoders for
// testing code that delivers documents to IDOL.
package idoltest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// Request is a request received by Server.
type Request struct {
	// Action holds the DRE action of an index request, or "ingest" for a
	// connector request.
	Action string

	// RawQuery holds the undecoded query string.
	RawQuery string

	// Body holds the request body.
	Body []byte
}

// Param returns the raw, still percent-encoded, value of the query
// parameter name.
func (r Request) Param(name string) (string, bool) {
	for _, kv := range strings.Split(r.RawQuery, "&") {
		k, v, _ := strings.Cut(kv, "=")
		if k == name {
			return v, true
		}
	}
	return "", false
}

// DeletedReferences returns the decoded references of a DREDELETEREF or
// connector removes request.
func (r Request) DeletedReferences() []string {
	raw, sep := "", ""
	if v, ok := r.Param("Docs"); ok {
		raw, sep = v, "+"
	} else if v, ok := r.Param("removes"); ok {
		raw, sep = v, ","
	}
	if raw == "" {
		return nil
	}
	var refs []string
	for _, token := range strings.Split(raw, sep) {
		ref, err := url.PathUnescape(token)
		if err != nil {
			ref = token
		}
		refs = append(refs, ref)
	}
	return refs
}

// Responder returns the status code and body to answer a request with.
type Responder func(Request) (int, string)

// Server is a mock IDOL server exposing the index actions DREADDDATA,
// DREDELETEREF and DRESYNC, and the connector ingest action.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	requests  []Request
	responder Responder
	indexID   int
}

// NewServer starts a mock IDOL server which is closed via t.Cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{}
	r := mux.NewRouter()
	r.HandleFunc("/{action:DRE[A-Z]+}", s.handle).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/", s.handle).Queries("action", "{action}").Methods(http.MethodPost, http.MethodGet)
	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the server URL, e.g. "http://127.0.0.1:1234".
func (s *Server) URL() string {
	return s.srv.URL
}

// Host returns the scheme and host of the server, without the port.
func (s *Server) Host() string {
	u, _ := url.Parse(s.srv.URL)
	return u.Scheme + "://" + u.Hostname()
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	u, _ := url.Parse(s.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return port
}

// Close shuts the server down. Subsequent requests fail to connect.
func (s *Server) Close() {
	s.srv.Close()
}

// SetResponder replaces the function answering requests. A nil responder
// restores the default, successful answers.
func (s *Server) SetResponder(fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = fn
}

// Requests returns the requests received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Actions returns the action of every request received so far.
func (s *Server) Actions() []string {
	reqs := s.Requests()
	actions := make([]string, len(reqs))
	for i, r := range reqs {
		actions[i] = r.Action
	}
	return actions
}

// Reset forgets the requests received so far.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := Request{
		Action:   mux.Vars(r)["action"],
		RawQuery: r.URL.RawQuery,
		Body:     body,
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	responder := s.responder
	s.indexID++
	indexID := s.indexID
	s.mu.Unlock()

	status, text := http.StatusOK, defaultResponse(req.Action, indexID)
	if responder != nil {
		status, text = responder(req)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, text)
}

func defaultResponse(action string, indexID int) string {
	if action == "ingest" {
		return "<autnresponse><response>SUCCESS</response></autnresponse>"
	}
	return fmt.Sprintf("INDEXID=%d\nENDLIST", indexID)
}
