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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/blinklabs-io/privabuild/fhe/fhemock"
	"github.com/blinklabs-io/privabuild/internal/config"
	"github.com/blinklabs-io/privabuild/ledger/ledgermock"
	"github.com/blinklabs-io/privabuild/storage/pinservice"
	"github.com/ethereum/go-ethereum/common"
)

// devServices runs the encryption network, registry and pinning service
// in-process. The relayer API and the pinning service share one loopback
// listener so the real HTTP clients are exercised.
type devServices struct {
	coproc   *fhemock.CoProcessor
	registry *ledgermock.Registry
	pins     *pinservice.Service
	listener net.Listener
	server   *http.Server
	baseURL  string
	logger   *slog.Logger
}

func startDevServices(cfg *config.Config, logger *slog.Logger) (*devServices, error) {
	coprocOpts := []fhemock.Option{fhemock.WithChainID(cfg.ChainId)}
	registryOpts := []ledgermock.Option{}
	if cfg.ContractAddress != "" {
		addr := common.HexToAddress(cfg.ContractAddress)
		coprocOpts = append(coprocOpts, fhemock.WithVerifyingContract(addr))
		registryOpts = append(registryOpts, ledgermock.WithAddress(addr))
	}
	coproc, err := fhemock.New(coprocOpts...)
	if err != nil {
		return nil, err
	}
	d := &devServices{
		coproc:   coproc,
		registry: ledgermock.New(coproc, registryOpts...),
		pins: pinservice.New(
			pinservice.WithJWT(cfg.PinningJwt),
			pinservice.WithLogger(logger),
		),
		logger: logger.With("component", "dev"),
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for dev services: %w", err)
	}
	d.listener = listener
	d.baseURL = "http://" + listener.Addr().String()
	mux := http.NewServeMux()
	mux.Handle("/v1/", coproc.Handler())
	mux.Handle("/", d.pins.Handler())
	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
	}
	go func() {
		if err := d.server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("dev services stopped", "error", err)
		}
	}()
	d.logger.Info(
		"started in-process ledger, relayer and pinning service",
		"url", d.baseURL,
		"contract", d.registry.Address().Hex(),
	)
	return d, nil
}

func (d *devServices) uploadURL() string {
	return d.baseURL + pinservice.UploadPath
}

func (d *devServices) stop(ctx context.Context) error {
	if err := d.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop dev services: %w", err)
	}
	return nil
}
