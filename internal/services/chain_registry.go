package services

import (
	"fmt"
	"log"
	"sync"

	"aa-backend/internal/config"
	"aa-backend/internal/types"
	"aa-backend/internal/utils"
)

// ChainServiceBuilder constructs an adapter for one chain settings block
type ChainServiceBuilder func(chainName string, settings *config.ChainSettings) (ChainService, error)

// ChainRegistry resolves ledger adapters by chain name or by address shape.
// Adapters are built lazily and cached.
type ChainRegistry struct {
	mu           sync.RWMutex
	services     map[string]ChainService
	builders     map[ChainKind]ChainServiceBuilder
	defaultChain string
}

// NewChainRegistry creates an empty registry. The default chain is used when
// an address matches no known shape.
func NewChainRegistry(defaultChain string) *ChainRegistry {
	return &ChainRegistry{
		services:     make(map[string]ChainService),
		builders:     make(map[ChainKind]ChainServiceBuilder),
		defaultChain: defaultChain,
	}
}

// RegisterBuilder installs the adapter constructor for a ledger family
func (r *ChainRegistry) RegisterBuilder(kind ChainKind, builder ChainServiceBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// Resolve returns the adapter for a configured chain, building it on first
// use.
func (r *ChainRegistry) Resolve(chainName string) (ChainService, error) {
	r.mu.RLock()
	if svc, ok := r.services[chainName]; ok {
		r.mu.RUnlock()
		return svc, nil
	}
	r.mu.RUnlock()

	settings, err := config.GetChainSettings(chainName)
	if err != nil {
		return nil, types.NewConfigurationError("registry.resolve", err.Error())
	}

	kind := DetectChainKind(chainName, settings)

	r.mu.Lock()
	defer r.mu.Unlock()

	// double-check after taking the write lock
	if svc, ok := r.services[chainName]; ok {
		return svc, nil
	}

	builder, ok := r.builders[kind]
	if !ok {
		return nil, types.NewConfigurationError("registry.resolve",
			fmt.Sprintf("no adapter registered for chain kind %s", kind))
	}

	svc, err := builder(chainName, settings)
	if err != nil {
		return nil, err
	}

	r.services[chainName] = svc
	log.Printf("✅ [Registry] built %s adapter for chain '%s'", kind, chainName)
	return svc, nil
}

// ResolveDefault returns the adapter for the default chain
func (r *ChainRegistry) ResolveDefault() (ChainService, error) {
	return r.Resolve(r.defaultChain)
}

// ResolveByAddress routes by address shape: 56 chars starting with 'G' goes
// to stellar, 0x plus 40 hex goes to evm, anything else falls back to the
// default chain.
func (r *ChainRegistry) ResolveByAddress(address string) (ChainService, error) {
	switch utils.DetectAddressKind(address) {
	case utils.AddressKindStellar:
		return r.resolveByKind(ChainKindStellar)
	case utils.AddressKindEvm:
		return r.resolveByKind(ChainKindEvm)
	default:
		log.Printf("⚠️ [Registry] address %q matches no known shape, using default chain '%s'", address, r.defaultChain)
		return r.ResolveDefault()
	}
}

// resolveByKind finds the first enabled chain of the requested family
func (r *ChainRegistry) resolveByKind(kind ChainKind) (ChainService, error) {
	for _, name := range config.ChainNames() {
		settings, err := config.GetChainSettings(name)
		if err != nil {
			continue
		}
		if DetectChainKind(name, settings) == kind {
			return r.Resolve(name)
		}
	}
	return nil, types.NewConfigurationError("registry.resolveByKind",
		fmt.Sprintf("no enabled chain of kind %s configured", kind))
}

// DetectChainKind classifies a settings block. Order: the explicit type
// field, then structural detection, then stellar as the default with a
// warning.
func DetectChainKind(chainName string, settings *config.ChainSettings) ChainKind {
	switch settings.Type {
	case string(ChainKindStellar):
		return ChainKindStellar
	case string(ChainKindEvm):
		return ChainKindEvm
	}

	// structural detection
	if settings.RPCURL != "" || settings.ProjectContractAddress != "" {
		return ChainKindEvm
	}
	if settings.Network != "" || settings.AssetCode != "" {
		return ChainKindStellar
	}

	log.Printf("⚠️ [Registry] chain '%s' has no recognizable settings, defaulting to stellar", chainName)
	return ChainKindStellar
}
