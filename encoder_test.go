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

package idolcommitter_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-idolcommitter"
	"github.com/elastic/go-idolcommitter/idoltest"
)

var (
	indexEndpoint     = idolcommitter.EndpointConfig{Host: "x.com", IndexPort: 9001}
	connectorEndpoint = idolcommitter.EndpointConfig{Host: "x.com", ConnectorPort: 7000}
)

func newMetadata(kv ...string) idolcommitter.Metadata {
	var md idolcommitter.Metadata
	for i := 0; i+1 < len(kv); i += 2 {
		md.Add(kv[i], kv[i+1])
	}
	return md
}

func TestTextEncoderAdd(t *testing.T) {
	enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{})
	md := newMetadata("title", "Hello", "tags", "a", "tags", "b")
	out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", md, strings.NewReader("body text")))
	require.NoError(t, err)
	assert.Equal(t, ""+
		"#DREREFERENCE doc-1\n"+
		"#DREFIELD title=\"Hello\"\n"+
		"#DREFIELD tags=\"a\"\n"+
		"#DREFIELD tags=\"b\"\n"+
		"#DRECONTENT\n"+
		"body text\n"+
		"#DREENDDOC\n",
		string(out),
	)
}

func TestTextEncoderDatabaseName(t *testing.T) {
	endpoint := indexEndpoint
	endpoint.DatabaseName = "News"
	enc := idolcommitter.NewEncoder(endpoint, idolcommitter.FieldMapping{})
	out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", idolcommitter.Metadata{}, strings.NewReader("x\n")))
	require.NoError(t, err)
	assert.Equal(t, "#DREREFERENCE doc-1\n#DREDBNAME News\n#DRECONTENT\nx\n#DREENDDOC\n", string(out))
}

func TestTextEncoderEscaping(t *testing.T) {
	enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{})
	md := newMetadata("quote", `say "hi"`, "path", `C:\tmp`, "multi", "line1\r\nline2\nline3")
	out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc\n1", md, nil))
	require.NoError(t, err)

	lines := strings.Split(string(out), "\n")
	assert.Equal(t, "#DREREFERENCE doc 1", lines[0])
	assert.Equal(t, `#DREFIELD quote="say \"hi\""`, lines[1])
	assert.Equal(t, `#DREFIELD path="C:\\tmp"`, lines[2])
	assert.Equal(t, `#DREFIELD multi="line1 line2 line3"`, lines[3])

	docs, err := idoltest.DecodeIDX(enc.EncodeBatch([][]byte{out}))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{`say "hi"`}, docs[0].FieldValues("quote"))
	assert.Equal(t, []string{`C:\tmp`}, docs[0].FieldValues("path"))
}

func TestTextEncoderBatch(t *testing.T) {
	enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{})
	for _, n := range []int{1, 2, 7} {
		var fragments [][]byte
		for i := 0; i < n; i++ {
			out, err := enc.EncodeAdd(idolcommitter.NewAddOperation(
				"doc-"+strings.Repeat("x", i+1), newMetadata("f", "v"), strings.NewReader("content"),
			))
			require.NoError(t, err)
			fragments = append(fragments, out)
		}
		payload := string(enc.EncodeBatch(fragments))
		assert.Equal(t, n, strings.Count(payload, "#DREENDDOC\n"))
		assert.Equal(t, 1, strings.Count(payload, "#DREENDDATANOOP"))
		assert.True(t, strings.HasSuffix(payload, "#DREENDDATANOOP\n\n"))

		docs, err := idoltest.DecodeIDX([]byte(payload))
		require.NoError(t, err)
		assert.Len(t, docs, n)
	}
}

func TestEncoderReferenceTarget(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{})
		out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", idolcommitter.Metadata{}, nil))
		require.NoError(t, err)
		assert.Contains(t, string(out), "#DREREFERENCE doc-1\n")
		assert.NotContains(t, string(out), "#DREFIELD")
	})
	t.Run("renamed", func(t *testing.T) {
		enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{IDTargetField: "MYREF"})
		out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", idolcommitter.Metadata{}, nil))
		require.NoError(t, err)
		assert.NotContains(t, string(out), "#DREREFERENCE")
		assert.Contains(t, string(out), "#DREFIELD MYREF=\"doc-1\"\n")
	})
}

func TestEncoderFieldMapping(t *testing.T) {
	md := newMetadata(
		"document.reference", "meta-ref",
		"body", "first",
		"body", "second",
		"DRECONTENT", "dropped",
		"title", "T",
	)
	t.Run("strip", func(t *testing.T) {
		enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{ContentSourceField: "body"})
		out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("op-ref", md, strings.NewReader("ignored")))
		require.NoError(t, err)
		docs, err := idoltest.DecodeIDX(enc.EncodeBatch([][]byte{out}))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, idoltest.Document{
			Reference: "meta-ref",
			Fields:    []idoltest.Field{{Name: "title", Value: "T"}},
			Content:   "first\nsecond",
		}, docs[0])
	})
	t.Run("keep", func(t *testing.T) {
		enc := idolcommitter.NewEncoder(indexEndpoint, idolcommitter.FieldMapping{
			IDSourceField:          "title",
			KeepIDSourceField:      true,
			ContentSourceField:     "body",
			KeepContentSourceField: true,
		})
		out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("op-ref", md, nil))
		require.NoError(t, err)
		docs, err := idoltest.DecodeIDX(enc.EncodeBatch([][]byte{out}))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "T", docs[0].Reference)
		assert.Equal(t, []idoltest.Field{
			{Name: "document.reference", Value: "meta-ref"},
			{Name: "body", Value: "first"},
			{Name: "body", Value: "second"},
			{Name: "title", Value: "T"},
		}, docs[0].Fields)
	})
	// The operation metadata is never modified.
	assert.Equal(t, 4, md.Len())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestEncoderErrors(t *testing.T) {
	for _, endpoint := range []idolcommitter.EndpointConfig{indexEndpoint, connectorEndpoint} {
		enc := idolcommitter.NewEncoder(endpoint, idolcommitter.FieldMapping{})
		var encErr *idolcommitter.EncodingError

		_, err := enc.EncodeAdd(idolcommitter.NewAddOperation("", idolcommitter.Metadata{}, nil))
		assert.ErrorAs(t, err, &encErr)
		_, err = enc.EncodeAdd(idolcommitter.NewAddOperation("bad\xff", idolcommitter.Metadata{}, nil))
		assert.ErrorAs(t, err, &encErr)
		_, err = enc.EncodeAdd(idolcommitter.NewAddOperation("doc", idolcommitter.Metadata{}, io.Reader(errReader{})))
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, "doc", encErr.Reference)

		_, err = enc.EncodeDelete(idolcommitter.NewDeleteOperation(""))
		assert.ErrorAs(t, err, &encErr)
		_, err = enc.EncodeDelete(idolcommitter.NewDeleteOperation("bad\xff"))
		assert.ErrorAs(t, err, &encErr)
	}
}

func TestEncoderDeletes(t *testing.T) {
	refs := []string{"a b", "c+d", "é/f", "plain"}
	for name, tc := range map[string]struct {
		endpoint idolcommitter.EndpointConfig
		sep      string
		want     string
	}{
		"index":     {indexEndpoint, "+", "a%20b+c%2Bd+%C3%A9%2Ff+plain"},
		"connector": {connectorEndpoint, ",", "a%20b,c%2Bd,%C3%A9%2Ff,plain"},
	} {
		t.Run(name, func(t *testing.T) {
			enc := idolcommitter.NewEncoder(tc.endpoint, idolcommitter.FieldMapping{})
			tokens := make([]string, len(refs))
			for i, ref := range refs {
				token, err := enc.EncodeDelete(idolcommitter.NewDeleteOperation(ref))
				require.NoError(t, err)
				tokens[i] = token
			}
			joined := enc.JoinDeletes(tokens)
			assert.Equal(t, tc.want, joined)
			assert.Len(t, strings.Split(joined, tc.sep), len(refs))
		})
	}
}

func TestXMLEncoder(t *testing.T) {
	enc := idolcommitter.NewEncoder(connectorEndpoint, idolcommitter.FieldMapping{})
	md := newMetadata("title", `<b>"x"</b>`, "tags", "a", "tags", "b")
	first, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", md, strings.NewReader("body & more")))
	require.NoError(t, err)
	second, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-2", idolcommitter.Metadata{}, nil))
	require.NoError(t, err)

	payload := enc.EncodeBatch([][]byte{first, second})
	assert.True(t, strings.HasPrefix(string(payload), "<adds><add><document><reference>doc-1</reference>"))
	assert.True(t, strings.HasSuffix(string(payload), "</adds>"))

	docs, err := idoltest.DecodeXML(payload)
	require.NoError(t, err)
	assert.Equal(t, []idoltest.Document{{
		Reference: "doc-1",
		Fields: []idoltest.Field{
			{Name: "title", Value: `<b>"x"</b>`},
			{Name: "tags", Value: "a"},
			{Name: "tags", Value: "b"},
		},
		Content: "body & more",
	}, {
		Reference: "doc-2",
		Content:   "",
	}}, docs)
}

func TestXMLEncoderReferenceTarget(t *testing.T) {
	enc := idolcommitter.NewEncoder(connectorEndpoint, idolcommitter.FieldMapping{IDTargetField: "ID"})
	out, err := enc.EncodeAdd(idolcommitter.NewAddOperation("doc-1", idolcommitter.Metadata{}, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<reference>")
	docs, err := idoltest.DecodeXML(enc.EncodeBatch([][]byte{out}))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []idoltest.Field{{Name: "ID", Value: "doc-1"}}, docs[0].Fields)
}
