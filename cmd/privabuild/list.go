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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blinklabs-io/privabuild/index"
	"github.com/blinklabs-io/privabuild/internal/config"
	"github.com/blinklabs-io/privabuild/internal/node"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

type listOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Builder     string `json:"builder"`
	CID         string `json:"cid"`
	Time        string `json:"time"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

func listCommand() *cobra.Command {
	var (
		all      bool
		mine     bool
		builder  string
		lookback uint64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent submissions from the registry",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if builder != "" && !common.IsHexAddress(builder) {
				fmt.Fprintln(os.Stderr, "Invalid builder: not a hex address.")
				os.Exit(1)
			}
			var opts []node.Option
			if !mine {
				opts = append(opts, node.ReadOnly())
			}
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				entries, err := listEntries(ctx, n, all, mine, builder, lookback)
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]listOutput, 0, len(entries))
					for _, e := range entries {
						out = append(out, listOutput{
							ID:          e.ID.Hex(),
							Name:        e.Name,
							Builder:     e.Submitter.Hex(),
							CID:         e.CID,
							Time:        entryTime(e),
							BlockNumber: e.BlockNumber,
						})
					}
					return printJSON(out)
				}
				printEntries(entries)
				return nil
			}, opts...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "load every submission id instead of scanning recent blocks")
	cmd.Flags().BoolVar(&mine, "mine", false, "only submissions from the configured wallet")
	cmd.Flags().StringVar(&builder, "builder", "", "only submissions from this address")
	cmd.Flags().Uint64Var(&lookback, "lookback", 0, "blocks to scan before the head (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.MarkFlagsMutuallyExclusive("mine", "builder")
	return cmd
}

func listEntries(
	ctx context.Context,
	n *node.Node,
	all bool,
	mine bool,
	builder string,
	lookback uint64,
) ([]index.Entry, error) {
	syncer := n.Synchronizer()
	if mine {
		wallet := n.Wallet()
		if wallet == nil {
			return nil, errors.New("no wallet loaded")
		}
		if !all && lookback == 0 {
			return syncer.SubmittedBy(ctx, wallet.Address())
		}
		builder = wallet.Address().Hex()
	}
	if all {
		if _, err := syncer.RefreshAll(ctx); err != nil {
			return nil, err
		}
	} else {
		if lookback == 0 {
			lookback = configLookback(ctx)
		}
		if _, err := syncer.Refresh(ctx, lookback); err != nil {
			return nil, err
		}
	}
	if builder != "" {
		return syncer.Table().ListBySubmitter(common.HexToAddress(builder)), nil
	}
	return syncer.Table().List(), nil
}

func configLookback(ctx context.Context) uint64 {
	if cfg := config.FromContext(ctx); cfg != nil && cfg.BackfillLookback > 0 {
		return cfg.BackfillLookback
	}
	return index.DefaultLookback
}

func entryTime(e index.Entry) string {
	//nolint:gosec // ledger timestamps fit in int64
	return time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
}

func printEntries(entries []index.Entry) {
	if len(entries) == 0 {
		fmt.Println("No submissions found.")
		return
	}
	fmt.Printf(
		"%-18s  %-24s  %-12s  %-20s  %s\n",
		"ID",
		"NAME",
		"BUILDER",
		"TIME",
		"CID",
	)
	for _, e := range entries {
		id := e.ID.Hex()
		if len(id) > 18 {
			id = id[:18]
		}
		name := e.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Printf(
			"%-18s  %-24s  %-12s  %-20s  %s\n",
			id,
			name,
			e.Submitter.Hex()[:12],
			entryTime(e),
			e.CID,
		)
	}
}
