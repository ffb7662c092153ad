package wallet

import (
	"strings"

	"github.com/rs/zerolog"
)

// Chain is a network offered to the wallet-connect front end.
type Chain struct {
	Name   string `json:"name" mapstructure:"name"`
	ID     uint64 `json:"id" mapstructure:"id"`
	RPCURL string `json:"rpcUrl,omitempty" mapstructure:"rpc_url"`
}

// Well-known networks. The first configured chain is the default network.
var (
	Sepolia = Chain{Name: "sepolia", ID: 11155111}
	Mainnet = Chain{Name: "mainnet", ID: 1}
)

// DefaultChains is used when no chains are configured.
func DefaultChains() []Chain {
	return []Chain{Sepolia, Mainnet}
}

// Config is the single wallet-connect integration selected at startup.
type Config struct {
	ProjectID string  `mapstructure:"project_id"`
	Chains    []Chain `mapstructure:"chains"`
}

// Integration exposes what the front end needs to initialise its wallet SDK.
type Integration interface {
	Enabled() bool
	ProjectID() string
	Chains() []Chain
	DefaultChain() (Chain, bool)
}

// Info is the JSON form of an Integration.
type Info struct {
	Enabled      bool    `json:"enabled"`
	ProjectID    string  `json:"projectId,omitempty"`
	Chains       []Chain `json:"chains"`
	DefaultChain *Chain  `json:"defaultChain,omitempty"`
}

type integration struct {
	projectID string
	chains    []Chain
}

// New builds the integration. A missing project id yields a disabled integration.
func New(cfg Config, logger zerolog.Logger) Integration {
	logger = logger.With().Str("component", "wallet").Logger()

	chains := make([]Chain, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		if c.ID == 0 {
			logger.Warn().Str("chain", c.Name).Msg("skipping wallet chain without id")
			continue
		}
		c.Name = strings.TrimSpace(c.Name)
		c.RPCURL = strings.TrimSpace(c.RPCURL)
		chains = append(chains, c)
	}
	if len(chains) == 0 {
		chains = DefaultChains()
	}

	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		logger.Warn().Msg("wallet.project_id not configured; wallet integration disabled")
	}
	return &integration{projectID: projectID, chains: chains}
}

func (i *integration) Enabled() bool { return i.projectID != "" }

func (i *integration) ProjectID() string { return i.projectID }

func (i *integration) Chains() []Chain {
	return append([]Chain(nil), i.chains...)
}

func (i *integration) DefaultChain() (Chain, bool) {
	if len(i.chains) == 0 {
		return Chain{}, false
	}
	return i.chains[0], true
}

// Describe renders an Integration for the API.
func Describe(in Integration) Info {
	info := Info{Enabled: in.Enabled(), ProjectID: in.ProjectID(), Chains: in.Chains()}
	if c, ok := in.DefaultChain(); ok {
		info.DefaultChain = &c
	}
	return info
}
