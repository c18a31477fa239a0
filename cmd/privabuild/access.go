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

	"github.com/blinklabs-io/privabuild/internal/node"
	"github.com/spf13/cobra"
)

func grantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <submission-id> <reviewer-address>",
		Short: "Allow a reviewer to disclose one of your submissions",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				client, err := n.Client()
				if err != nil {
					return err
				}
				if err := client.GrantAccess(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("granted %s access to %s\n", args[1], args[0])
				return nil
			})
		},
	}
	return cmd
}

func revokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <submission-id> <reviewer-address>",
		Short: "Withdraw a reviewer's access to one of your submissions",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withNode(cmd, func(ctx context.Context, n *node.Node) error {
				client, err := n.Client()
				if err != nil {
					return err
				}
				if err := client.RevokeAccess(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("revoked %s access to %s\n", args[1], args[0])
				return nil
			})
		},
	}
	return cmd
}
