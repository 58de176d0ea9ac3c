package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const (
	demoBaseURL = "https://api-demo.bybit.com"

	mainnetPublicWS  = "wss://stream.bybit.com/v5/public/"
	testnetPublicWS  = "wss://stream-testnet.bybit.com/v5/public/"
	mainnetPrivateWS = "wss://stream.bybit.com/v5/private"
	testnetPrivateWS = "wss://stream-testnet.bybit.com/v5/private"
	demoPrivateWS    = "wss://stream-demo.bybit.com/v5/private"
)

// Client wraps the Bybit API client with the calls the OMS needs
type Client struct {
	httpClient *bybit_api.Client
	apiKey     string
	apiSecret  string
	category   string
	testnet    bool
	demo       bool
	retry      RetryConfig
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool   // Demo trading environment
	Category  string // linear, spot or inverse
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	var baseURL string
	if config.Demo {
		baseURL = demoBaseURL
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := config.Category
	if category == "" {
		category = "linear"
	}

	return &Client{
		httpClient: httpClient,
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		category:   category,
		testnet:    config.Testnet,
		demo:       config.Demo,
		retry:      DefaultRetryConfig(),
	}
}

// Category returns the product category orders are placed in
func (c *Client) Category() string {
	return c.category
}

// IsTestnet returns whether the client is configured for testnet
func (c *Client) IsTestnet() bool {
	return c.testnet
}

// IsDemo returns whether the client is configured for demo trading
func (c *Client) IsDemo() bool {
	return c.demo
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.demo {
		return "demo"
	} else if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// PublicStreamURL returns the market-data WebSocket endpoint. Demo trading
// uses mainnet market data.
func (c *Client) PublicStreamURL() string {
	if c.testnet && !c.demo {
		return testnetPublicWS + c.category
	}
	return mainnetPublicWS + c.category
}

// PrivateStreamURL returns the execution WebSocket endpoint
func (c *Client) PrivateStreamURL() string {
	switch {
	case c.demo:
		return demoPrivateWS
	case c.testnet:
		return testnetPrivateWS
	default:
		return mainnetPrivateWS
	}
}
