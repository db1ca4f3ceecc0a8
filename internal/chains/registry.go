package chains

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v2"
)

// ChainID is the canonical numeric identifier for an EVM chain. Every
// internal boundary uses this type; textual provider names exist only at
// the two external edges (provider API payloads and display).
type ChainID uint64

func (c ChainID) String() string {
	return fmt.Sprintf("%d", c)
}

// Chain describes one supported chain: its provider-facing name, its
// bridge protocol domain, and the contract addresses used by transfers.
type Chain struct {
	ID                 ChainID `yaml:"chain_id"`
	ProviderName       string  `yaml:"provider_name"`
	Domain             uint32  `yaml:"domain"`
	RPCEndpoint        string  `yaml:"rpc_endpoint"`
	USDCAddress        string  `yaml:"usdc_address"`
	TokenMessenger     string  `yaml:"token_messenger"`
	MessageTransmitter string  `yaml:"message_transmitter"`
}

// Registry resolves between canonical chain ids, provider names, and
// bridge domains. Immutable after construction.
type Registry struct {
	byID     map[ChainID]Chain
	byName   map[string]ChainID
	byDomain map[uint32]ChainID
}

// Default testnet set. CCTP v2 uses the same TokenMessenger and
// MessageTransmitter address on every supported EVM testnet.
const (
	defaultTokenMessenger     = "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"
	defaultMessageTransmitter = "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"
)

func defaultChains() []Chain {
	return []Chain{
		{
			ID:                 11155111,
			ProviderName:       "ETH-SEPOLIA",
			Domain:             0,
			RPCEndpoint:        "https://ethereum-sepolia-rpc.publicnode.com",
			USDCAddress:        "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			TokenMessenger:     defaultTokenMessenger,
			MessageTransmitter: defaultMessageTransmitter,
		},
		{
			ID:                 43113,
			ProviderName:       "AVAX-FUJI",
			Domain:             1,
			RPCEndpoint:        "https://api.avax-test.network/ext/bc/C/rpc",
			USDCAddress:        "0x5425890298aed601595a70AB815c96711a31Bc65",
			TokenMessenger:     defaultTokenMessenger,
			MessageTransmitter: defaultMessageTransmitter,
		},
		{
			ID:                 421614,
			ProviderName:       "ARB-SEPOLIA",
			Domain:             3,
			RPCEndpoint:        "https://sepolia-rollup.arbitrum.io/rpc",
			USDCAddress:        "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
			TokenMessenger:     defaultTokenMessenger,
			MessageTransmitter: defaultMessageTransmitter,
		},
		{
			ID:                 84532,
			ProviderName:       "BASE-SEPOLIA",
			Domain:             6,
			RPCEndpoint:        "https://sepolia.base.org",
			USDCAddress:        "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			TokenMessenger:     defaultTokenMessenger,
			MessageTransmitter: defaultMessageTransmitter,
		},
		{
			ID:                 80002,
			ProviderName:       "MATIC-AMOY",
			Domain:             7,
			RPCEndpoint:        "https://rpc-amoy.polygon.technology",
			USDCAddress:        "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
			TokenMessenger:     defaultTokenMessenger,
			MessageTransmitter: defaultMessageTransmitter,
		},
	}
}

// NewRegistry builds a registry from the default chain set.
func NewRegistry() *Registry {
	r, err := newRegistry(defaultChains())
	if err != nil {
		// The built-in table is validated by tests; this cannot happen
		// at runtime.
		panic(err)
	}
	return r
}

// LoadRegistry builds a registry from a YAML file. An empty path falls
// back to the built-in defaults.
func LoadRegistry(chainsFile string) (*Registry, error) {
	if chainsFile == "" {
		return NewRegistry(), nil
	}

	chainsPath := chainsFile
	if !filepath.IsAbs(chainsFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		chainsPath = filepath.Join(wd, chainsFile)
	}

	data, err := os.ReadFile(chainsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", chainsFile, err)
	}

	var doc struct {
		Chains []Chain `yaml:"chains"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", chainsFile, err)
	}

	return newRegistry(doc.Chains)
}

func newRegistry(chains []Chain) (*Registry, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("chain registry cannot be empty")
	}

	r := &Registry{
		byID:     make(map[ChainID]Chain, len(chains)),
		byName:   make(map[string]ChainID, len(chains)),
		byDomain: make(map[uint32]ChainID, len(chains)),
	}

	for i, c := range chains {
		if c.ID == 0 {
			return nil, fmt.Errorf("chain at index %d missing chain_id", i)
		}
		if c.ProviderName == "" {
			return nil, fmt.Errorf("chain %d missing provider_name", c.ID)
		}
		if _, exists := r.byID[c.ID]; exists {
			return nil, fmt.Errorf("duplicate chain_id %d", c.ID)
		}
		if _, exists := r.byName[c.ProviderName]; exists {
			return nil, fmt.Errorf("duplicate provider_name %s", c.ProviderName)
		}
		if _, exists := r.byDomain[c.Domain]; exists {
			return nil, fmt.Errorf("duplicate domain %d", c.Domain)
		}
		r.byID[c.ID] = c
		r.byName[c.ProviderName] = c.ID
		r.byDomain[c.Domain] = c.ID
	}

	return r, nil
}

// Get returns the chain for a canonical id.
func (r *Registry) Get(id ChainID) (Chain, error) {
	c, ok := r.byID[id]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain id %d", id)
	}
	return c, nil
}

// FromProviderName adapts a provider blockchain name (e.g. "ETH-SEPOLIA")
// to a canonical chain id. This is one of the two places textual chain
// names are accepted.
func (r *Registry) FromProviderName(name string) (ChainID, error) {
	id, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown provider chain name %q", name)
	}
	return id, nil
}

// ProviderName adapts a canonical chain id back to the provider's name.
func (r *Registry) ProviderName(id ChainID) (string, error) {
	c, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return c.ProviderName, nil
}

// Domain returns the bridge protocol domain for a chain.
func (r *Registry) Domain(id ChainID) (uint32, error) {
	c, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return c.Domain, nil
}

// FromDomain resolves a bridge domain back to a canonical chain id.
func (r *Registry) FromDomain(domain uint32) (ChainID, error) {
	id, ok := r.byDomain[domain]
	if !ok {
		return 0, fmt.Errorf("unknown bridge domain %d", domain)
	}
	return id, nil
}

// IDs returns the registered chain ids in ascending order.
func (r *Registry) IDs() []ChainID {
	ids := make([]ChainID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
