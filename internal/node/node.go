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
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild"
	"github.com/blinklabs-io/privabuild/event"
	"github.com/blinklabs-io/privabuild/feed"
	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/relayer"
	"github.com/blinklabs-io/privabuild/index"
	"github.com/blinklabs-io/privabuild/internal/config"
	"github.com/blinklabs-io/privabuild/keycache"
	"github.com/blinklabs-io/privabuild/keystore"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/blinklabs-io/privabuild/ledger/evm"
	"github.com/blinklabs-io/privabuild/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ErrNoWallet is returned by Client on a node built without a wallet
var ErrNoWallet = fmt.Errorf("node: %w", ledger.ErrReadOnly)

// Node holds the collaborators for one run mode
type Node struct {
	cfg           *config.Config
	baseLogger    *slog.Logger
	logger        *slog.Logger
	registry      *prometheus.Registry
	bus           *event.Bus
	reader        ledger.Reader
	ledger        ledger.Ledger
	ethClient     interface{ Close() }
	storage       *storage.Client
	provider      *fhe.Provider
	keyCache      *keycache.Cache
	wallet        *keystore.Wallet
	ownsWallet    bool
	dev           *devServices
	synchronizer  *index.Synchronizer
	api           *feed.Server
	metricsServer *http.Server
	clientOnce    sync.Once
	client        *privabuild.Client
	clientErr     error
	stopOnce      sync.Once
	stopErr       error
}

type options struct {
	readOnly bool
	wallet   *keystore.Wallet
}

// Option configures New
type Option func(*options)

// ReadOnly skips loading the wallet. Client is unavailable.
func ReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithWallet uses w instead of loading the configured key file
func WithWallet(w *keystore.Wallet) Option {
	return func(o *options) {
		o.wallet = w
	}
}

// New builds every collaborator for the configured run mode. Nothing is
// started until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("node: config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.readOnly {
		if err := cfg.RequireLedger(); err != nil {
			return nil, err
		}
	} else if o.wallet == nil {
		if err := cfg.RequireServices(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger.Debug(
		"building node",
		"component", "node",
		"run_mode", cfg.RunMode,
		"contract", cfg.ContractAddress,
		"chain_id", cfg.ChainId,
	)
	n := &Node{
		cfg:        cfg,
		baseLogger: logger,
		logger:     logger.With("component", "node"),
		registry:   prometheus.NewRegistry(),
		wallet:     o.wallet,
	}
	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	n.bus = event.NewBus(n.registry, logger)
	n.bus.SubscribeFunc(event.SubmissionIndexedEventType, n.logIndexed)
	var err error
	if cfg.RunMode.IsDevMode() {
		err = n.buildDev(logger, o.readOnly)
	} else {
		err = n.buildServe(logger, o.readOnly)
	}
	if err != nil {
		_ = n.closeAll(context.Background())
		return nil, err
	}
	n.synchronizer = index.NewSynchronizer(
		n.reader,
		index.WithLookback(cfg.BackfillLookback),
		index.WithEventBus(n.bus),
		index.WithLogger(logger),
		index.WithPromRegistry(n.registry),
		index.WithBackfillOptions(
			index.WithChunkSize(cfg.BackfillChunkSize),
			index.WithChunkDelay(cfg.BackfillChunkDelay),
		),
	)
	n.api = feed.New(
		feed.Config{
			ListenAddress: cfg.ApiListenAddress,
			GatewayURL:    n.storage.URL,
			Gatherer:      n.registry,
		},
		n.synchronizer.Table(),
		logger,
	)
	return n, nil
}

func (n *Node) logIndexed(evt event.Event) {
	e, ok := evt.Data.(event.SubmissionIndexedEvent)
	if !ok || e.Source != event.SourceLive {
		return
	}
	n.logger.Info(
		"new submission",
		"id", e.ID.Hex(),
		"name", e.Name,
		"builder", e.Builder.Hex(),
		"block", e.BlockNumber,
	)
}

func (n *Node) buildDev(logger *slog.Logger, readOnly bool) error {
	dev, err := startDevServices(n.cfg, logger)
	if err != nil {
		return err
	}
	n.dev = dev
	n.reader = dev.registry
	if !readOnly {
		if n.wallet == nil {
			if n.cfg.KeyFile != "" {
				n.wallet, err = keystore.LoadFromFile(
					n.cfg.KeyFile,
					n.cfg.KeyPassphrase,
					keystore.WithLogger(logger),
				)
			} else {
				n.wallet, err = keystore.Generate(keystore.WithLogger(logger))
			}
			if err != nil {
				return err
			}
			n.ownsWallet = true
		}
		n.ledger = dev.registry.Session(n.wallet.Address())
	}
	n.storage = storage.NewClient(
		dev.uploadURL(),
		dev.baseURL,
		storage.WithJWT(n.cfg.PinningJwt),
		storage.WithLogger(logger),
	)
	n.provider = fhe.NewProvider(
		relayer.NewClient(dev.baseURL, relayer.WithLogger(logger)),
		fhe.WithLogger(logger),
	)
	// Keys sealed against an in-process network are useless after exit
	n.keyCache, err = keycache.New(keycache.WithLogger(logger))
	return err
}

func (n *Node) buildServe(logger *slog.Logger, readOnly bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := evm.Dial(ctx, n.cfg.RpcUrl)
	if err != nil {
		return err
	}
	n.ethClient = client
	contractOpts := []evm.Option{evm.WithLogger(logger)}
	if !readOnly {
		if n.wallet == nil {
			n.wallet, err = keystore.LoadFromFile(
				n.cfg.KeyFile,
				n.cfg.KeyPassphrase,
				keystore.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			n.ownsWallet = true
		}
		txOpts, err := n.wallet.TransactOpts(big.NewInt(n.cfg.ChainId))
		if err != nil {
			return err
		}
		contractOpts = append(contractOpts, evm.WithTransactor(txOpts))
	}
	contract, err := evm.New(
		common.HexToAddress(n.cfg.ContractAddress),
		client,
		contractOpts...,
	)
	if err != nil {
		return err
	}
	n.reader = contract
	if !readOnly {
		n.ledger = contract
	}
	n.storage = storage.NewClient(
		n.cfg.PinningUrl,
		n.cfg.Gateway,
		storage.WithJWT(n.cfg.PinningJwt),
		storage.WithLogger(logger),
	)
	n.provider = fhe.NewProvider(
		relayer.NewClient(n.cfg.RelayerUrl, relayer.WithLogger(logger)),
		fhe.WithLogger(logger),
	)
	if readOnly {
		return nil
	}
	n.keyCache, err = keycache.New(
		keycache.WithDataDir(n.cfg.KeyCacheDir),
		keycache.WithLogger(logger),
	)
	return err
}

// Client returns the submission pipeline bound to this node's wallet
func (n *Node) Client() (*privabuild.Client, error) {
	n.clientOnce.Do(func() {
		if n.wallet == nil || n.ledger == nil {
			n.clientErr = ErrNoWallet
			return
		}
		opts := []privabuild.ConfigOptionFunc{
			privabuild.WithLogger(n.baseLogger),
			privabuild.WithPrometheusRegistry(n.registry),
			privabuild.WithLedger(n.ledger),
			privabuild.WithStorage(n.storage),
			privabuild.WithFHEProvider(n.provider),
			privabuild.WithSigner(n.wallet),
			privabuild.WithEventBus(n.bus),
			privabuild.WithDecryptionTimeout(n.cfg.DecryptionTimeout),
			privabuild.WithValidityDays(n.cfg.ValidityDays),
		}
		if n.keyCache != nil {
			opts = append(opts, privabuild.WithKeyCache(n.keyCache))
		}
		n.client, n.clientErr = privabuild.New(privabuild.NewConfig(opts...))
	})
	return n.client, n.clientErr
}

// Synchronizer returns the submission index synchronizer
func (n *Node) Synchronizer() *index.Synchronizer {
	return n.synchronizer
}

// Wallet returns the loaded wallet, or nil on a read-only node
func (n *Node) Wallet() *keystore.Wallet {
	return n.wallet
}

// APIAddr returns the feed API listen address once Run has started it
func (n *Node) APIAddr() net.Addr {
	return n.api.Addr()
}

// Run starts the feed API, the metrics listener and the index
// synchronizer, and blocks until ctx is done or one of them fails. The node
// is stopped before Run returns.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := n.api.Start(gctx); err != nil {
			return fmt.Errorf("start feed api: %w", err)
		}
		return nil
	})
	if n.cfg.MetricsPort > 0 {
		listener, err := net.Listen(
			"tcp",
			fmt.Sprintf("%s:%d", n.cfg.BindAddr, n.cfg.MetricsPort),
		)
		if err != nil {
			return errors.Join(
				fmt.Errorf("listen for metrics: %w", err),
				n.Stop(),
			)
		}
		n.metricsServer = n.newMetricsServer()
		n.logger.Info("serving prometheus metrics on " + listener.Addr().String())
		g.Go(func() error {
			err := n.metricsServer.Serve(listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := n.synchronizer.Start(gctx)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("start index: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()
	if err != nil {
		n.logger.Error("node error", "error", err)
	} else {
		n.logger.Info("shutdown requested, stopping")
	}
	return errors.Join(err, n.Stop())
}

// newMetricsServer serves metrics and the pprof debug handlers
func (n *Node) newMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Stop releases everything New and Run acquired. It is safe to call more
// than once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
		defer cancel()
		n.stopErr = n.closeAll(ctx)
		if n.stopErr != nil {
			n.logger.Error("shutdown errors occurred", "error", n.stopErr)
			return
		}
		n.logger.Info("shutdown complete")
	})
	return n.stopErr
}

func (n *Node) closeAll(ctx context.Context) error {
	var errs []error
	if n.api != nil {
		if err := n.api.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop feed api: %w", err))
		}
	}
	if n.metricsServer != nil {
		if err := n.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics listener: %w", err))
		}
	}
	if n.synchronizer != nil {
		n.synchronizer.Stop()
	}
	if n.bus != nil {
		n.bus.Stop()
	}
	if n.keyCache != nil {
		if err := n.keyCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close key cache: %w", err))
		}
	}
	if n.wallet != nil && n.ownsWallet {
		n.wallet.Close()
	}
	if n.ethClient != nil {
		n.ethClient.Close()
	}
	if n.dev != nil {
		if err := n.dev.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
