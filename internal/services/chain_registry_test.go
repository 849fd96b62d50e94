package services

import (
	"testing"

	"aa-backend/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestDetectChainKind_ExplicitType(t *testing.T) {
	assert.Equal(t, ChainKindStellar, DetectChainKind("anychain", &config.ChainSettings{
		Type: "stellar",
		// explicit type wins over structure
		RPCURL: "http://localhost:8545",
	}))
	assert.Equal(t, ChainKindEvm, DetectChainKind("anychain", &config.ChainSettings{
		Type:    "evm",
		Network: "Test SDF Network ; September 2015",
	}))
}

func TestDetectChainKind_StructuralEvm(t *testing.T) {
	assert.Equal(t, ChainKindEvm, DetectChainKind("base", &config.ChainSettings{
		RPCURL: "http://localhost:8545",
	}))
	assert.Equal(t, ChainKindEvm, DetectChainKind("base", &config.ChainSettings{
		ProjectContractAddress: "0x742d35Cc6634C0532925a3b0F26750C66d78EB66",
	}))
}

func TestDetectChainKind_StructuralStellar(t *testing.T) {
	assert.Equal(t, ChainKindStellar, DetectChainKind("stellar", &config.ChainSettings{
		Network: "Test SDF Network ; September 2015",
	}))
	assert.Equal(t, ChainKindStellar, DetectChainKind("stellar", &config.ChainSettings{
		AssetCode: "RAHAT",
	}))
}

func TestDetectChainKind_DefaultsToStellar(t *testing.T) {
	assert.Equal(t, ChainKindStellar, DetectChainKind("mystery", &config.ChainSettings{}))
}

func TestRegistry_ResolveUnknownChainFails(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = &config.Config{Chains: map[string]config.ChainSettings{}}
	defer func() { config.AppConfig = prev }()

	r := NewChainRegistry("stellar")
	_, err := r.Resolve("nope")
	assert.Error(t, err)
}

func TestRegistry_ResolveDisabledChainFails(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = &config.Config{Chains: map[string]config.ChainSettings{
		"stellar": {Type: "stellar", Enabled: false},
	}}
	defer func() { config.AppConfig = prev }()

	r := NewChainRegistry("stellar")
	_, err := r.Resolve("stellar")
	assert.Error(t, err)
}

func TestRegistry_ResolveWithoutBuilderFails(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = &config.Config{Chains: map[string]config.ChainSettings{
		"stellar": {Type: "stellar", Enabled: true},
	}}
	defer func() { config.AppConfig = prev }()

	r := NewChainRegistry("stellar")
	_, err := r.Resolve("stellar")
	assert.Error(t, err)
}

func TestRegistry_ResolveBuildsAndCaches(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = &config.Config{Chains: map[string]config.ChainSettings{
		"stellar": {Type: "stellar", Enabled: true},
	}}
	defer func() { config.AppConfig = prev }()

	built := 0
	r := NewChainRegistry("stellar")
	r.RegisterBuilder(ChainKindStellar, func(chainName string, settings *config.ChainSettings) (ChainService, error) {
		built++
		return &fakeChainService{name: chainName, kind: ChainKindStellar}, nil
	})

	svc1, err := r.Resolve("stellar")
	assert.NoError(t, err)
	svc2, err := r.Resolve("stellar")
	assert.NoError(t, err)

	assert.Same(t, svc1.(*fakeChainService), svc2.(*fakeChainService))
	assert.Equal(t, 1, built)
}
