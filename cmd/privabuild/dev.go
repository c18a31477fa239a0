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
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/privabuild"
	"github.com/blinklabs-io/privabuild/internal/config"
	"github.com/blinklabs-io/privabuild/internal/node"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/spf13/cobra"
)

// burnAddress is granted access to seeded submissions so the reviewer
// path is exercised without a second wallet
const burnAddress = "0x000000000000000000000000000000000000dEaD"

func devCommand() *cobra.Command {
	var seed int
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run with an in-process ledger, relayer and pinning service",
		Long: `Run the feed API against an in-process registry, encryption network and
pinning service. Nothing is persisted: state is lost when the process exits.
With --seed, example submissions are sealed, submitted and disclosed once
before serving.`,
		PreRun: func(cmd *cobra.Command, args []string) {
			if cfg := config.FromContext(cmd.Context()); cfg != nil {
				cfg.RunMode = config.RunModeDev
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				client, err := n.Client()
				if err != nil {
					return err
				}
				logger := slog.Default().With("component", "dev")
				logger.Info("dev wallet", "address", client.Address().Hex())
				for i := range seed {
					if err := seedSubmission(ctx, client, i, logger); err != nil {
						return err
					}
				}
				return n.Run(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&seed, "seed", 1, "number of example submissions to create")
	return cmd
}

func seedSubmission(
	ctx context.Context,
	client *privabuild.Client,
	i int,
	logger *slog.Logger,
) error {
	res, err := client.Seal(ctx, &privabuild.SealRequest{
		Name: fmt.Sprintf("example-%d", i+1),
		Payload: seal.Payload{
			Website:    fmt.Sprintf("https://example-%d.invalid", i+1),
			Repository: fmt.Sprintf("https://github.com/example/project-%d", i+1),
		},
		Reviewer: burnAddress,
	})
	if err != nil {
		return fmt.Errorf("seed submission: %w", err)
	}
	disclosed, err := client.Disclose(ctx, res.ID.Hex(), privabuild.DiscloseOptions{})
	if err != nil {
		return fmt.Errorf("disclose seeded submission: %w", err)
	}
	logger.Info(
		"seeded submission",
		"id", res.ID.Hex(),
		"cid", res.CID,
		"website", disclosed.Payload.Website,
	)
	return nil
}
