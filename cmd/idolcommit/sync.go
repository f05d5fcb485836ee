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
	"github.com/spf13/cobra"

	"github.com/elastic/go-idolcommitter"
)

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ask the index to make recent changes visible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			var cfg idolcommitter.Config
			settings.Apply(&cfg)
			client, err := idolcommitter.NewClient(idolcommitter.ClientConfig{
				Endpoint:          cfg.Endpoint,
				RequestsPerSecond: cfg.RequestsPerSecond,
			})
			if err != nil {
				return err
			}
			ack, err := client.Sync(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("synced %s (index id %d)\n", client.BaseURL(), ack.IndexID)
			return nil
		},
	}
}

func newConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			return settings.Save(cmd.OutOrStdout())
		},
	}
}
