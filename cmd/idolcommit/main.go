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

// Command idolcommit delivers document operations to an IDOL index or
// connector endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elastic/go-idolcommitter"
)

type options struct {
	configPath    string
	host          string
	indexPort     int
	connectorPort int
	database      string
	batchSize     int
	logLevel      string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "idolcommit",
		Short:         "Deliver document operations to IDOL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML settings file")
	flags.StringVar(&opts.host, "host", "", "IDOL host name")
	flags.IntVar(&opts.indexPort, "index-port", 0, "index port (text format)")
	flags.IntVar(&opts.connectorPort, "connector-port", 0, "connector port (XML format)")
	flags.StringVar(&opts.database, "database", "", "target database name")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "operations per request")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")

	root.AddCommand(
		newCommitCommand(opts),
		newSyncCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// settings loads the settings file, if any, and applies flag overrides.
func (o *options) settings(cmd *cobra.Command) (idolcommitter.Settings, error) {
	s := idolcommitter.Settings{IndexPort: idolcommitter.DefaultIndexPort}
	if o.configPath != "" {
		f, err := os.Open(o.configPath)
		if err != nil {
			return s, err
		}
		defer f.Close()
		if s, err = idolcommitter.LoadSettings(f); err != nil {
			return s, fmt.Errorf("%s: %w", o.configPath, err)
		}
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		s.Host = o.host
	}
	if flags.Changed("index-port") {
		s.IndexPort = o.indexPort
	}
	if flags.Changed("connector-port") {
		s.ConnectorPort = o.connectorPort
		if !flags.Changed("index-port") {
			s.IndexPort = 0
		}
	}
	if flags.Changed("database") {
		s.DatabaseName = o.database
	}
	if flags.Changed("batch-size") {
		s.BatchSize = o.batchSize
	}
	return s, nil
}

func (o *options) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
