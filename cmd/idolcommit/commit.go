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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elastic/go-idolcommitter"
	"github.com/elastic/go-idolcommitter/opstream"
)

func newCommitCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commit [file]",
		Short: "Deliver operations read from an NDJSON file or stdin",
		Long: `Reads add and delete operations, one JSON object per line, from the
given file or from stdin, delivers them in batches and commits. Gzip
input is detected automatically. A JSON summary is printed on success.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runCommit(cmd, opts, in)
		},
	}
}

func runCommit(cmd *cobra.Command, opts *options, in io.Reader) error {
	settings, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	logger, err := opts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	reader, err := opstream.NewReader(in)
	if err != nil {
		return err
	}
	defer reader.Close()

	cfg := idolcommitter.Config{Logger: logger, Acknowledger: reader}
	settings.Apply(&cfg)
	committer, err := idolcommitter.New(cfg)
	if err != nil {
		return err
	}

	ops := make(chan idolcommitter.Operation, committerQueueSize(cfg.BatchSize))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return reader.Stream(ctx, ops)
	})
	g.Go(func() error {
		return committer.Run(ctx, opstream.Channel(ops))
	})
	runErr := g.Wait()
	if err := committer.Close(cmd.Context()); err != nil && runErr == nil {
		runErr = err
	}

	stats := committer.Stats()
	logger.Info("delivery finished",
		zap.Int64("read", reader.Read()),
		zap.Int64("acked", reader.Acked()),
		zap.Int64("skipped", stats.Skipped),
	)
	if runErr != nil {
		return runErr
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(statsJSON(stats, reader.Read())))
	return err
}

func committerQueueSize(batchSize int) int {
	if batchSize <= 0 {
		return idolcommitter.DefaultBatchSize
	}
	return batchSize
}

func statsJSON(s idolcommitter.Stats, read int64) []byte {
	var w fastjson.Writer
	w.RawString(`{"read":`)
	w.Int64(read)
	w.RawString(`,"added":`)
	w.Int64(s.Added)
	w.RawString(`,"deleted":`)
	w.Int64(s.Deleted)
	w.RawString(`,"skipped":`)
	w.Int64(s.Skipped)
	w.RawString(`,"delivered":`)
	w.Int64(s.Delivered)
	w.RawString(`,"requests":`)
	w.Int64(s.Requests)
	w.RawString(`,"failed_requests":`)
	w.Int64(s.FailedRequests)
	w.RawString(`,"commits":`)
	w.Int64(s.Commits)
	w.RawString(`,"bytes":`)
	w.Int64(s.BytesTotal)
	w.RawByte('}')
	return w.Bytes()
}
