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
	"github.com/spf13/cobra"
)

type submitOutput struct {
	ID     string `json:"id"`
	CID    string `json:"cid"`
	Hash   string `json:"hash"`
	Size   int64  `json:"size"`
	Cached bool   `json:"cached"`
}

func submitCommand() *cobra.Command {
	var req privabuild.SealRequest
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Seal a submission, pin it and record it on the registry",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				client, err := n.Client()
				if err != nil {
					return err
				}
				res, err := client.Seal(ctx, &req)
				if err != nil {
					return err
				}
				return printJSON(submitOutput{
					ID:     res.ID.Hex(),
					CID:    res.CID,
					Hash:   res.Hash.Hex(),
					Size:   res.Size,
					Cached: res.Cached,
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "public submission name")
	cmd.Flags().StringVar(&req.Payload.Website, "website", "", "project website (sealed)")
	cmd.Flags().StringVar(&req.Payload.Repository, "github", "", "source repository (sealed)")
	cmd.Flags().StringVar(&req.Payload.Video, "video", "", "demo video link (sealed)")
	cmd.Flags().StringVar(&req.Reviewer, "reviewer", "", "address granted access at creation")
	return cmd
}
