package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// ContractsFile is the name of the known-contracts file in the config directory.
const ContractsFile = "contracts.yaml"

var ErrUnknownContract = errors.New("contract abi not known")

// ContractsConfig is the root of contracts.yaml.
type ContractsConfig struct {
	Contracts []ContractConfig `yaml:"contracts"`
}

// ContractConfig pins the ABI of one contract so it is decoded without a
// registry lookup.
type ContractConfig struct {
	// Name is informational only.
	Name    string `yaml:"name"`
	Address string `yaml:"address" validate:"required,eth_addr"`
	// ABI is the JSON ABI, usually as a YAML block scalar.
	ABI      string `yaml:"abi" validate:"required"`
	Disabled bool   `yaml:"disabled"`
}

// LoadContracts reads and validates a known-contracts file. A missing file
// yields an empty config.
func LoadContracts(path string) (ContractsConfig, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return ContractsConfig{}, nil
	}
	if err != nil {
		return ContractsConfig{}, err
	}
	defer f.Close()

	var cfg ContractsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return ContractsConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	validate := validator.New()
	for i, c := range cfg.Contracts {
		if c.Disabled {
			continue
		}
		if err := validate.Struct(c); err != nil {
			return ContractsConfig{}, fmt.Errorf("contract %d (%s): %w", i, c.Name, err)
		}
		if _, err := abi.JSON(strings.NewReader(c.ABI)); err != nil {
			return ContractsConfig{}, fmt.Errorf("contract %d (%s): %w: %w", i, c.Name, ErrInvalidABI, err)
		}
	}

	return cfg, nil
}

var _ pairing.ABIRegistry = (*Registry)(nil)

// Registry serves the ABIs of known contracts and asks fallback for the rest.
type Registry struct {
	known    map[string]json.RawMessage
	fallback pairing.ABIRegistry
	logger   log.Logger
}

// NewRegistry indexes the enabled contracts of cfg. fallback may be nil, in
// which case unknown contracts fail with ErrUnknownContract.
func NewRegistry(cfg ContractsConfig, fallback pairing.ABIRegistry, lg log.Logger) *Registry {
	if lg == nil {
		lg = log.NewNoopLogger()
	}

	known := make(map[string]json.RawMessage, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		if c.Disabled {
			continue
		}
		known[strings.ToLower(c.Address)] = json.RawMessage(bytes.TrimSpace([]byte(c.ABI)))
	}

	return &Registry{
		known:    known,
		fallback: fallback,
		logger:   lg.WithName("abi-registry"),
	}
}

func (r *Registry) ContractABI(ctx context.Context, address string) (json.RawMessage, error) {
	if abiJSON, ok := r.known[strings.ToLower(address)]; ok {
		r.logger.Debug("using known contract abi", "address", address)
		return abiJSON, nil
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, address)
	}
	return r.fallback.ContractABI(ctx, address)
}
