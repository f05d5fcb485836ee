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
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultReferenceTarget is the remote field holding the document reference.
	DefaultReferenceTarget = "DREREFERENCE"
	// DefaultContentTarget is the remote field holding the document content.
	DefaultContentTarget = "DRECONTENT"

	batchTerminator = "#DREENDDATANOOP\n\n"
)

var (
	errInvalidUTF8 = errors.New("reference is not valid UTF-8")

	fieldValueReplacer = strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\r\n", " ",
		"\r", " ",
		"\n", " ",
	)
	lineReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
)

// Encoder turns operations into wire-format fragments for one endpoint variant.
type Encoder interface {
	// EncodeAdd returns the fragment for a single add operation.
	EncodeAdd(op Operation) ([]byte, error)

	// EncodeDelete returns the percent-encoded reference token of a delete
	// operation.
	EncodeDelete(op Operation) (string, error)

	// EncodeBatch wraps the add fragments of a batch into a full payload.
	EncodeBatch(fragments [][]byte) []byte

	// JoinDeletes joins delete tokens with the endpoint's separator.
	JoinDeletes(tokens []string) string
}

// NewEncoder returns the encoder matching the endpoint: the text format for
// the index endpoint, the XML format for the connector endpoint.
func NewEncoder(endpoint EndpointConfig, mapping FieldMapping) Encoder {
	mapping = mapping.withDefaults()
	if endpoint.ConnectorPort > 0 {
		return XMLEncoder{Mapping: mapping}
	}
	return TextEncoder{Mapping: mapping, DatabaseName: endpoint.DatabaseName}
}

// TextEncoder encodes operations in the line-oriented format accepted by
// DREADDDATA.
type TextEncoder struct {
	Mapping      FieldMapping
	DatabaseName string
}

// EncodeAdd implements Encoder.
//
// Field values are written inside double quotes: backslashes and quotes are
// escaped, and line breaks are folded into spaces so a value never spans
// more than one line. Content is written verbatim.
func (e TextEncoder) EncodeAdd(op Operation) ([]byte, error) {
	doc, err := e.Mapping.resolve(op)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if e.Mapping.IDTargetField == DefaultReferenceTarget {
		b.WriteString("#DREREFERENCE ")
		b.WriteString(lineReplacer.Replace(doc.reference))
		b.WriteByte('\n')
	} else {
		writeTextField(&b, e.Mapping.IDTargetField, doc.reference)
	}
	for _, name := range doc.fields.Names() {
		for _, value := range doc.fields.Values(name) {
			writeTextField(&b, name, value)
		}
	}
	if e.DatabaseName != "" {
		b.WriteString("#DREDBNAME ")
		b.WriteString(lineReplacer.Replace(e.DatabaseName))
		b.WriteByte('\n')
	}
	b.WriteString("#DRECONTENT\n")
	b.Write(doc.content)
	if n := len(doc.content); n > 0 && doc.content[n-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("#DREENDDOC\n")
	return b.Bytes(), nil
}

func writeTextField(b *bytes.Buffer, name, value string) {
	b.WriteString("#DREFIELD ")
	b.WriteString(lineReplacer.Replace(name))
	b.WriteString(`="`)
	b.WriteString(fieldValueReplacer.Replace(value))
	b.WriteString("\"\n")
}

// EncodeDelete implements Encoder.
func (e TextEncoder) EncodeDelete(op Operation) (string, error) {
	return encodeReference(op.Reference)
}

// EncodeBatch implements Encoder.
func (e TextEncoder) EncodeBatch(fragments [][]byte) []byte {
	n := len(batchTerminator)
	for _, f := range fragments {
		n += len(f)
	}
	buf := make([]byte, 0, n)
	for _, f := range fragments {
		buf = append(buf, f...)
	}
	return append(buf, batchTerminator...)
}

// JoinDeletes implements Encoder.
func (e TextEncoder) JoinDeletes(tokens []string) string {
	return strings.Join(tokens, "+")
}

// XMLEncoder encodes operations in the XML format accepted by the connector
// ingest action.
type XMLEncoder struct {
	Mapping FieldMapping
}

type xmlAdd struct {
	XMLName  xml.Name    `xml:"add"`
	Document xmlDocument `xml:"document"`
	Source   xmlSource   `xml:"source"`
}

type xmlDocument struct {
	Reference string        `xml:"reference,omitempty"`
	Metadata  []xmlMetadata `xml:"metadata"`
}

type xmlMetadata struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlSource struct {
	Content string `xml:"content,attr"`
}

// EncodeAdd implements Encoder.
func (e XMLEncoder) EncodeAdd(op Operation) ([]byte, error) {
	doc, err := e.Mapping.resolve(op)
	if err != nil {
		return nil, err
	}
	var add xmlAdd
	if e.Mapping.IDTargetField == DefaultReferenceTarget {
		add.Document.Reference = doc.reference
	} else {
		add.Document.Metadata = append(add.Document.Metadata, xmlMetadata{
			Name: e.Mapping.IDTargetField, Value: doc.reference,
		})
	}
	for _, name := range doc.fields.Names() {
		for _, value := range doc.fields.Values(name) {
			add.Document.Metadata = append(add.Document.Metadata, xmlMetadata{Name: name, Value: value})
		}
	}
	add.Source.Content = base64.StdEncoding.EncodeToString(doc.content)
	out, err := xml.Marshal(add)
	if err != nil {
		return nil, &EncodingError{Reference: op.Reference, Err: err}
	}
	return out, nil
}

// EncodeDelete implements Encoder.
func (e XMLEncoder) EncodeDelete(op Operation) (string, error) {
	return encodeReference(op.Reference)
}

// EncodeBatch implements Encoder.
func (e XMLEncoder) EncodeBatch(fragments [][]byte) []byte {
	var b bytes.Buffer
	b.WriteString("<adds>")
	for _, f := range fragments {
		b.Write(f)
	}
	b.WriteString("</adds>")
	return b.Bytes()
}

// JoinDeletes implements Encoder.
func (e XMLEncoder) JoinDeletes(tokens []string) string {
	return strings.Join(tokens, ",")
}

// encodeReference percent-encodes a reference as UTF-8. Spaces are encoded
// as %20 so they cannot be confused with the "+" separator.
func encodeReference(ref string) (string, error) {
	if ref == "" {
		return "", &EncodingError{Err: errMissingReference}
	}
	if !utf8.ValidString(ref) {
		return "", &EncodingError{Reference: ref, Err: errInvalidUTF8}
	}
	return strings.ReplaceAll(url.QueryEscape(ref), "+", "%20"), nil
}

// mappedDocument is an add operation after field mapping.
type mappedDocument struct {
	reference string
	fields    Metadata
	content   []byte
}

func (m FieldMapping) resolve(op Operation) (mappedDocument, error) {
	if closer, ok := op.Content.(io.Closer); ok {
		defer closer.Close()
	}
	fields := op.Metadata.Clone()

	idSource := m.IDSourceField
	if idSource == "" {
		idSource = DefaultReferenceField
	}
	ref := fields.Get(idSource)
	if ref == "" {
		ref = op.Reference
	}
	if ref == "" {
		return mappedDocument{}, &EncodingError{Err: errMissingReference}
	}
	if !utf8.ValidString(ref) {
		return mappedDocument{}, &EncodingError{Reference: ref, Err: errInvalidUTF8}
	}
	if !m.KeepIDSourceField {
		fields.Delete(idSource)
	}

	var content []byte
	if m.ContentSourceField != "" {
		content = []byte(strings.Join(fields.Values(m.ContentSourceField), "\n"))
		if !m.KeepContentSourceField {
			fields.Delete(m.ContentSourceField)
		}
	} else if op.Content != nil {
		var err error
		if content, err = io.ReadAll(op.Content); err != nil {
			return mappedDocument{}, &EncodingError{
				Reference: ref,
				Err:       fmt.Errorf("failed to read content: %w", err),
			}
		}
	}

	// The target fields are carried by dedicated markers; drop any metadata
	// field using the same name so it is not sent twice.
	fields.Delete(m.IDTargetField)
	fields.Delete(m.ContentTargetField)
	return mappedDocument{reference: ref, fields: fields, content: content}, nil
}
