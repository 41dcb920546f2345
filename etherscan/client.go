package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

const (
	DefaultBaseURL = "https://api.etherscan.io/api"
	DefaultTimeout = 10 * time.Second

	statusOK        = "1"
	maxResponseSize = 4 << 20
)

var (
	ErrNotVerified = errors.New("contract abi not available")
	ErrBadResponse = errors.New("unexpected etherscan response")
)

type Config struct {
	BaseURL string        `env:"WALLETLINK_ETHERSCAN_URL" env-default:"https://api.etherscan.io/api"`
	APIKey  string        `env:"WALLETLINK_ETHERSCAN_API_KEY"`
	Timeout time.Duration `env:"WALLETLINK_ETHERSCAN_TIMEOUT" env-default:"10s"`
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

var _ pairing.ABIRegistry = (*Client)(nil)

// Client fetches verified contract ABIs from an Etherscan-compatible API.
// Lookups are not cached.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  log.Logger
}

func NewClient(cfg Config, lg log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if lg == nil {
		lg = log.NewNoopLogger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  lg.WithName("etherscan"),
	}
}

// ContractABI returns the ABI of the verified contract at address as a JSON array.
func (c *Client) ContractABI(ctx context.Context, address string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getabi")
	query.Set("address", address)
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create abi request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch abi: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read abi response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, res.StatusCode)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if payload.Status != statusOK {
		c.logger.Debug("abi lookup rejected", "address", address, "message", payload.Message, "result", payload.Result)
		return nil, fmt.Errorf("%w for %s: %s", ErrNotVerified, address, payload.Result)
	}

	abi := json.RawMessage(payload.Result)
	var entries []json.RawMessage
	if err := json.Unmarshal(abi, &entries); err != nil {
		return nil, fmt.Errorf("%w: abi is not a json array: %w", ErrBadResponse, err)
	}

	return abi, nil
}
