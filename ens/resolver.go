// Package ens resolves ENS names to addresses on Ethereum mainnet.
package ens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// RegistryAddress is the ENS registry on chain id 1.
var RegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const (
	registryABI = `[{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}]`
	resolverABI = `[{"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}]`
)

var ErrEmptyName = errors.New("empty ens name")

var _ pairing.AddressResolver = (*Resolver)(nil)

// Resolver performs forward ENS resolution through contract calls.
type Resolver struct {
	caller      ethereum.ContractCaller
	registry    common.Address
	registryABI abi.ABI
	resolverABI abi.ABI
	logger      log.Logger
}

func NewResolver(caller ethereum.ContractCaller, lg log.Logger) (*Resolver, error) {
	if lg == nil {
		lg = log.NewNoopLogger()
	}

	registry, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}
	resolver, err := abi.JSON(strings.NewReader(resolverABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse resolver abi: %w", err)
	}

	return &Resolver{
		caller:      caller,
		registry:    RegistryAddress,
		registryABI: registry,
		resolverABI: resolver,
		logger:      lg.WithName("ens"),
	}, nil
}

func (r *Resolver) IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ResolveName returns the checksummed address name points to, or "" when the
// name has no resolver or no address record.
func (r *Resolver) ResolveName(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", ErrEmptyName
	}
	node := NameHash(name)

	resolver, err := r.callAddress(ctx, r.registry, r.registryABI, "resolver", node)
	if err != nil {
		return "", fmt.Errorf("failed to look up resolver of %s: %w", name, err)
	}
	if resolver == (common.Address{}) {
		r.logger.Debug("name has no resolver", "name", name)
		return "", nil
	}

	addr, err := r.callAddress(ctx, resolver, r.resolverABI, "addr", node)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	if addr == (common.Address{}) {
		r.logger.Debug("name has no address record", "name", name, "resolver", resolver)
		return "", nil
	}

	return addr.Hex(), nil
}

func (r *Resolver) callAddress(ctx context.Context, to common.Address, contract abi.ABI, method string, node common.Hash) (common.Address, error) {
	data, err := contract.Pack(method, [32]byte(node))
	if err != nil {
		return common.Address{}, err
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, nil
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output %T", method, values[0])
	}
	return addr, nil
}

// NameHash computes the EIP-137 node of a normalized name.
func NameHash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}

	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node[:], label))
	}
	return node
}
