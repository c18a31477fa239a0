// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"github.com/blinklabs-io/privabuild"
	"github.com/blinklabs-io/privabuild/internal/node"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/spf13/cobra"
)

type discloseOutput struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Builder   string       `json:"builder"`
	CID       string       `json:"cid"`
	Timestamp uint64       `json:"timestamp"`
	Hash      string       `json:"hash"`
	FromCache bool         `json:"from_cache"`
	Payload   seal.Payload `json:"payload"`
}

func discloseCommand() *cobra.Command {
	var opts privabuild.DiscloseOptions
	cmd := &cobra.Command{
		Use:   "disclose <submission-id>",
		Short: "Decrypt a submission you are authorized to read and verify it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				client, err := n.Client()
				if err != nil {
					return err
				}
				res, err := client.Disclose(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(discloseOutput{
					ID:        res.ID.Hex(),
					Name:      res.Meta.Name,
					Builder:   res.Meta.Builder.Hex(),
					CID:       res.Meta.CID,
					Timestamp: res.Meta.Timestamp,
					Hash:      res.Hash.Hex(),
					FromCache: res.FromCache,
					Payload:   res.Payload,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&opts.UseCache, "use-cache", false, "take the seal key from the local key cache when present")
	return cmd
}
