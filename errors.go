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
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned from methods of a closed Committer.
	ErrClosed = errors.New("committer closed")

	// ErrProtocol is matched by every error raised while delivering a
	// request to the remote server, whether the request failed in transit
	// (TransportError) or the server did not acknowledge it (ProtocolError).
	ErrProtocol = errors.New("idol protocol error")

	errMissingReference = errors.New("missing document reference")
	errUnknownOperation = errors.New("unsupported operation kind")
)

// ConfigurationError reports an invalid endpoint configuration. It is raised
// before any request is sent.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// MalformedRequestError reports a request URL that could not be built.
type MalformedRequestError struct {
	URL string
	Err error
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request URL %q: %v", e.URL, e.Err)
}

func (e *MalformedRequestError) Unwrap() error { return e.Err }

// TransportError reports a request that failed before a complete response
// could be read: connection failures, I/O errors, cancelled contexts.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to execute the request to %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrProtocol }

// ProtocolError reports a response which did not carry the expected success
// token. Body holds the raw response for diagnostics.
type ProtocolError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from %s (status %d): %s", e.URL, e.StatusCode, e.Body)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// EncodingError reports an operation which could not be encoded. The
// operation is skipped; the rest of its batch is unaffected.
type EncodingError struct {
	Reference string
	Err       error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode document %q: %v", e.Reference, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
