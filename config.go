package limitorder

import (
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultHost is the API address lopd listens on out of the box
	DefaultHost = "http://127.0.0.1:7545"

	// DefaultChainID is the chain id of a default lopd ledger
	DefaultChainID int64 = 1337

	// DefaultEngineAddress is the default fill engine address. Orders are
	// signed with it as the verifying contract.
	DefaultEngineAddress = "0x111111125421cA6dc452d289314280a0f8842A65"

	DefaultTimeout = 10 * time.Second
)

// ClientConfig holds configuration for creating a Client
type ClientConfig struct {
	Host string
	// WSEndpoint defaults to the /ws path of Host.
	WSEndpoint string
	ChainID    int64
	Engine     string
	// PrivateKey is the hex encoded maker key. Without it the client can
	// only read and fill.
	PrivateKey string
	// RPCURL is an optional Ethereum JSON-RPC endpoint for VerifyOnChain.
	RPCURL  string
	Timeout time.Duration
}

func (c *ClientConfig) setDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.WSEndpoint == "" {
		c.WSEndpoint = wsEndpoint(c.Host)
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.Engine == "" {
		c.Engine = DefaultEngineAddress
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// wsEndpoint maps an http(s) host to the ws(s) feed URL.
func wsEndpoint(host string) string {
	u, err := url.Parse(host)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
