package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/erc7824/nitrolite/walletlink/contract"
	"github.com/erc7824/nitrolite/walletlink/ens"
	"github.com/erc7824/nitrolite/walletlink/etherscan"
	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
	"github.com/erc7824/nitrolite/walletlink/relay"
	"github.com/erc7824/nitrolite/walletlink/storage"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %s\n", err.Error())
		return
	}

	logger := log.NewZapLogger(cfg.Log).WithName("walletlink")

	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		fmt.Printf("Failed to open storage: %s\n", err.Error())
		return
	}
	store := storage.NewStore(db, cfg.StorageKey, logger)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
	if err != nil {
		fmt.Printf("Failed to connect to Ethereum RPC: %s\n", err.Error())
		return
	}
	defer eth.Close()

	if chainID, err := eth.ChainID(ctx); err != nil {
		logger.Warn("failed to query chain id", "error", err)
	} else if chainID.Uint64() != pairing.DefaultChainID {
		logger.Warn("ENS names resolve on mainnet, rpc serves another chain", "chainId", chainID.String())
	}

	resolver, err := ens.NewResolver(eth, logger)
	if err != nil {
		fmt.Printf("Failed to create ENS resolver: %s\n", err.Error())
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pairing.NewMetricsWithRegistry(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, logger)
	}

	contracts, err := contract.LoadContracts(filepath.Join(cfg.ConfigDir, contract.ContractsFile))
	if err != nil {
		fmt.Printf("Failed to load known contracts: %s\n", err.Error())
		return
	}
	decoder := pairing.NewCallDecoder(
		contract.NewRegistry(contracts, etherscan.NewClient(cfg.Etherscan, logger), logger),
		contract.NewDecoder(),
		logger,
	)

	controller, err := pairing.NewSessionController(pairing.ControllerConfig{
		Store:    store,
		Decoder:  decoder,
		Resolver: resolver,
		NewTransport: relay.NewFactory(relay.Config{
			ClientMeta: pairing.PeerMeta{
				Name:        cfg.Client.Name,
				URL:         cfg.Client.URL,
				Description: cfg.Client.Description,
				Icons:       []string{},
			},
			Store:  store,
			Logger: logger,
		}),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		fmt.Printf("Failed to create session controller: %s\n", err.Error())
		return
	}
	defer controller.Close()

	if err := controller.Initialize(ctx); err != nil {
		fmt.Printf("Failed to restore session: %s\n", err.Error())
	}

	operator := NewOperator(controller)
	renderStatus(os.Stdout, controller.State())

	initialState, _ := term.GetState(int(os.Stdin.Fd()))
	handleExit := func() {
		term.Restore(int(os.Stdin.Fd()), initialState)
		exec.Command("stty", "sane").Run()
	}

	options := append(getStyleOptions(),
		prompt.OptionPrefix(">>> "),

		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(buf *prompt.Buffer) {
				fmt.Println("Exiting walletlink.")
				controller.Close()
				handleExit()
				os.Exit(0)
			},
		}),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlD,
			Fn:  func(buf *prompt.Buffer) {},
		}),
	)
	p := prompt.New(
		operator.Execute,
		operator.Complete,
		options...,
	)

	promptExitCh := make(chan struct{})
	go func() {
		p.Run()
		close(promptExitCh)
	}()

	select {
	case <-operator.Wait():
	case <-promptExitCh:
		fmt.Println("Prompt exited.")
	}
	handleExit()
}

func serveMetrics(addr string, registry *prometheus.Registry, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func getStyleOptions() []prompt.Option {
	return []prompt.Option{
		prompt.OptionTitle("walletlink"),
		prompt.OptionPrefixTextColor(prompt.Yellow),
		prompt.OptionPreviewSuggestionTextColor(prompt.Cyan),

		prompt.OptionSuggestionTextColor(prompt.White),
		prompt.OptionSuggestionBGColor(prompt.DarkBlue),

		prompt.OptionDescriptionTextColor(prompt.Black),
		prompt.OptionDescriptionBGColor(prompt.Yellow),

		prompt.OptionSelectedSuggestionTextColor(prompt.Black),
		prompt.OptionSelectedSuggestionBGColor(prompt.Yellow),

		prompt.OptionSelectedDescriptionTextColor(prompt.White),
		prompt.OptionSelectedDescriptionBGColor(prompt.DarkBlue),

		prompt.OptionShowCompletionAtStart(),
	}
}
