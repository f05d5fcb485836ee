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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-idolcommitter"
)

func TestSettingsRoundTrip(t *testing.T) {
	settings := idolcommitter.Settings{
		Host:              "https://idol.example.com",
		IndexPort:         idolcommitter.DefaultIndexPort,
		DatabaseName:      "News",
		BatchSize:         250,
		FlushTimeout:      idolcommitter.Duration(30 * time.Second),
		RequestsPerSecond: 2.5,
		Fields: idolcommitter.FieldSettings{
			IDSource:          "url",
			KeepIDSource:      true,
			IDTarget:          "MYREF",
			ContentSource:     "body",
			ContentTarget:     "DRECONTENT",
			KeepContentSource: false,
		},
		AddParams:    map[string]string{"KillDuplicates": "REFERENCE"},
		DeleteParams: map[string]string{"Priority": "1", "Synchronous": "true"},
	}

	var buf bytes.Buffer
	require.NoError(t, settings.Save(&buf))
	assert.Contains(t, buf.String(), "30s")

	loaded, err := idolcommitter.LoadSettings(&buf)
	require.NoError(t, err)
	assert.Equal(t, settings, loaded)

	var cfg idolcommitter.Config
	loaded.Apply(&cfg)
	assert.Equal(t, idolcommitter.EndpointConfig{
		Host:         "https://idol.example.com",
		IndexPort:    idolcommitter.DefaultIndexPort,
		DatabaseName: "News",
	}, cfg.Endpoint)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.FlushTimeout)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	assert.Equal(t, idolcommitter.FieldMapping{
		IDSourceField:      "url",
		KeepIDSourceField:  true,
		IDTargetField:      "MYREF",
		ContentSourceField: "body",
		ContentTargetField: "DRECONTENT",
	}, cfg.FieldMapping)
	assert.Equal(t, settings.AddParams, cfg.AddParams)
	assert.Equal(t, settings.DeleteParams, cfg.DeleteParams)
}

func TestLoadSettings(t *testing.T) {
	settings, err := idolcommitter.LoadSettings(strings.NewReader(`
host = "x.com"
connector_port = 7000
batch_size = 10

[fields]
content_source = "text"
`))
	require.NoError(t, err)
	assert.Equal(t, idolcommitter.Settings{
		Host:          "x.com",
		ConnectorPort: 7000,
		BatchSize:     10,
		Fields:        idolcommitter.FieldSettings{ContentSource: "text"},
	}, settings)

	_, err = idolcommitter.LoadSettings(strings.NewReader(`hots = "typo"`))
	assert.Error(t, err)

	_, err = idolcommitter.LoadSettings(strings.NewReader(`flush_timeout = "soon"`))
	assert.Error(t, err)
}
