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
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/privabuild/keystore"
	"github.com/spf13/cobra"
)

func keygenCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new wallet key file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := commonRun()
			if _, err := os.Stat(out); err == nil {
				slog.Error("refusing to overwrite existing key file", "path", out)
				os.Exit(1)
			}
			wallet, err := keystore.Generate(keystore.WithLogger(logger))
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			err = wallet.SaveToFile(out)
			wallet.Close()
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Printf("wrote key for %s to %s\n", wallet.Address().Hex(), out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "privabuild.key", "path of the key file to write")
	return cmd
}
