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

package idoltest

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Field is a named document field value.
type Field struct {
	Name  string
	Value string
}

// Document is an add operation decoded from a request payload.
type Document struct {
	Reference    string
	Fields       []Field
	DatabaseName string
	Content      string
}

// FieldValues returns the values of the field name.
func (d Document) FieldValues(name string) []string {
	var values []string
	for _, f := range d.Fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// DecodeIDX decodes a DREADDDATA payload. The payload must be terminated
// by #DREENDDATANOOP.
func DecodeIDX(body []byte) ([]Document, error) {
	text := string(body)
	data, rest, ok := strings.Cut(text, "#DREENDDATANOOP")
	if !ok {
		return nil, errors.New("missing #DREENDDATANOOP terminator")
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("unexpected data after terminator: %q", rest)
	}

	var (
		docs      []Document
		doc       *Document
		inContent bool
		content   []string
	)
	for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
		if inContent {
			if line == "#DREENDDOC" {
				doc.Content = strings.Join(content, "\n")
				docs = append(docs, *doc)
				doc, inContent, content = nil, false, nil
				continue
			}
			content = append(content, line)
			continue
		}
		if line == "" && doc == nil {
			continue
		}
		if doc == nil {
			doc = &Document{}
		}
		switch {
		case strings.HasPrefix(line, "#DREREFERENCE "):
			doc.Reference = strings.TrimPrefix(line, "#DREREFERENCE ")
		case strings.HasPrefix(line, "#DREFIELD "):
			f, err := decodeField(strings.TrimPrefix(line, "#DREFIELD "))
			if err != nil {
				return nil, err
			}
			doc.Fields = append(doc.Fields, f)
		case strings.HasPrefix(line, "#DREDBNAME "):
			doc.DatabaseName = strings.TrimPrefix(line, "#DREDBNAME ")
		case line == "#DRECONTENT":
			inContent = true
		default:
			return nil, fmt.Errorf("unexpected line %q", line)
		}
	}
	if doc != nil {
		return nil, errors.New("document not terminated by #DREENDDOC")
	}
	return docs, nil
}

func decodeField(s string) (Field, error) {
	name, quoted, ok := strings.Cut(s, "=")
	if !ok || len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
		return Field{}, fmt.Errorf("malformed field %q", s)
	}
	quoted = quoted[1 : len(quoted)-1]
	var b strings.Builder
	for i := 0; i < len(quoted); i++ {
		c := quoted[i]
		if c == '\\' && i+1 < len(quoted) {
			i++
			c = quoted[i]
		} else if c == '"' {
			return Field{}, fmt.Errorf("unescaped quote in field %q", s)
		}
		b.WriteByte(c)
	}
	return Field{Name: name, Value: b.String()}, nil
}

type xmlAdds struct {
	Adds []struct {
		Document struct {
			Reference string `xml:"reference"`
			Metadata  []struct {
				Name  string `xml:"name,attr"`
				Value string `xml:"value,attr"`
			} `xml:"metadata"`
		} `xml:"document"`
		Source struct {
			Content string `xml:"content,attr"`
		} `xml:"source"`
	} `xml:"add"`
}

// DecodeXML decodes an <adds> document sent to the connector endpoint.
func DecodeXML(body []byte) ([]Document, error) {
	var adds xmlAdds
	if err := xml.Unmarshal(body, &adds); err != nil {
		return nil, fmt.Errorf("failed to decode adds: %w", err)
	}
	docs := make([]Document, 0, len(adds.Adds))
	for _, add := range adds.Adds {
		content, err := base64.StdEncoding.DecodeString(add.Source.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
		doc := Document{Reference: add.Document.Reference, Content: string(content)}
		for _, md := range add.Document.Metadata {
			doc.Fields = append(doc.Fields, Field{Name: md.Name, Value: md.Value})
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DecodeConnectorAdds decodes the form body of a connector ingest request
// carrying additions.
func DecodeConnectorAdds(body []byte) ([]Document, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse form body: %w", err)
	}
	adds := form.Get("adds")
	if adds == "" {
		return nil, errors.New("missing adds parameter")
	}
	return DecodeXML([]byte(adds))
}

// DecodeRequest decodes the documents added by req, for either endpoint.
func DecodeRequest(req Request) ([]Document, error) {
	if req.Action == "ingest" {
		return DecodeConnectorAdds(req.Body)
	}
	return DecodeIDX(req.Body)
}
