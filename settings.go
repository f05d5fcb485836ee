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
	"io"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultIndexPort is the conventional index port of the remote server.
const DefaultIndexPort = 9001

// Settings is the persisted form of a committer configuration.
type Settings struct {
	Host          string `toml:"host"`
	IndexPort     int    `toml:"index_port,omitempty"`
	ConnectorPort int    `toml:"connector_port,omitempty"`
	DatabaseName  string `toml:"database_name,omitempty"`

	BatchSize         int      `toml:"batch_size,omitempty"`
	FlushTimeout      Duration `toml:"flush_timeout,omitempty"`
	RequestsPerSecond float64  `toml:"requests_per_second,omitempty"`

	Fields FieldSettings `toml:"fields,omitempty"`

	AddParams    map[string]string `toml:"add_params,omitempty"`
	DeleteParams map[string]string `toml:"delete_params,omitempty"`
}

// FieldSettings is the persisted form of FieldMapping.
type FieldSettings struct {
	IDSource          string `toml:"id_source,omitempty"`
	KeepIDSource      bool   `toml:"keep_id_source,omitempty"`
	IDTarget          string `toml:"id_target,omitempty"`
	ContentSource     string `toml:"content_source,omitempty"`
	KeepContentSource bool   `toml:"keep_content_source,omitempty"`
	ContentTarget     string `toml:"content_target,omitempty"`
}

// Duration is a time.Duration stored as a string such as "30s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadSettings decodes TOML settings from r. Unknown keys are rejected.
func LoadSettings(r io.Reader) (Settings, error) {
	var s Settings
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

// Save encodes the settings as TOML to w.
func (s Settings) Save(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}

// Apply copies the settings into cfg. Fields of cfg not covered by
// Settings, such as the logger or the transport, are left untouched.
func (s Settings) Apply(cfg *Config) {
	cfg.Endpoint = EndpointConfig{
		Host:          s.Host,
		IndexPort:     s.IndexPort,
		ConnectorPort: s.ConnectorPort,
		DatabaseName:  s.DatabaseName,
	}
	cfg.BatchSize = s.BatchSize
	cfg.FlushTimeout = time.Duration(s.FlushTimeout)
	cfg.RequestsPerSecond = s.RequestsPerSecond
	cfg.FieldMapping = FieldMapping{
		IDSourceField:          s.Fields.IDSource,
		KeepIDSourceField:      s.Fields.KeepIDSource,
		IDTargetField:          s.Fields.IDTarget,
		ContentSourceField:     s.Fields.ContentSource,
		KeepContentSourceField: s.Fields.KeepContentSource,
		ContentTargetField:     s.Fields.ContentTarget,
	}
	cfg.AddParams = s.AddParams
	cfg.DeleteParams = s.DeleteParams
}
