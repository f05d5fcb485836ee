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

// Package idolcommitter provides an API for delivering batches of document
// additions and deletions to an IDOL index or connector endpoint.
//
// Operations are encoded as they are added, buffered per kind and sent in
// batches over HTTP. A commit cycle sends pending deletions first, then
// pending additions, then asks the index to sync. Requests are never
// retried by the package; an undelivered batch stays buffered and is sent
// again by the next flush or commit.
package idolcommitter
