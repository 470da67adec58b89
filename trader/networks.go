package trader

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"perpx/logger"
)

// NetworkConfig pins every address and constant the client needs on one
// chain. The diamond proxy exposes no introspectable ABI, so nothing in
// here is discovered at runtime; a wrong address fails loudly instead of
// trading against the wrong contract.
type NetworkConfig struct {
	ID           string
	ChainID      int64
	RPCEndpoint  string
	Diamond      common.Address
	FundingToken common.Address

	// OracleFeeWei is attached as native value on operations that trigger
	// an oracle price update
	OracleFeeWei *big.Int
}

// builtinNetworks are the verified deployments. Addresses are kept lowercase
// here; EIP-55 casing is applied at display time only.
var builtinNetworks = map[string]NetworkConfig{
	"arbitrum": {
		ID:           "arbitrum",
		ChainID:      42161,
		RPCEndpoint:  "https://arb1.arbitrum.io/rpc",
		Diamond:      common.HexToAddress("0x83f2c74f1b0cf6cd3a6f8f8c2e9d41d02a7b94e3"),
		FundingToken: common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831"),
		OracleFeeWei: big.NewInt(600_000_000_000_000), // 0.0006 ETH
	},
	"base": {
		ID:           "base",
		ChainID:      8453,
		RPCEndpoint:  "https://mainnet.base.org",
		Diamond:      common.HexToAddress("0x4de3a13f55c27419d58e632fd9e0d3a9b8972f61"),
		FundingToken: common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"),
		OracleFeeWei: big.NewInt(400_000_000_000_000), // 0.0004 ETH
	},
}

// Networks returns the deployment table, builtin entries merged with any
// overrides loaded through LoadDeployments.
func Networks() map[string]NetworkConfig {
	out := make(map[string]NetworkConfig, len(builtinNetworks)+len(overrideNetworks))
	for k, v := range builtinNetworks {
		out[k] = v
	}
	for k, v := range overrideNetworks {
		out[k] = v
	}
	return out
}

// GetNetwork looks up one network by id (case-insensitive).
func GetNetwork(id string) (NetworkConfig, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if cfg, ok := overrideNetworks[key]; ok {
		return cfg, nil
	}
	if cfg, ok := builtinNetworks[key]; ok {
		return cfg, nil
	}
	return NetworkConfig{}, fmt.Errorf("unknown network %q", id)
}

var overrideNetworks = map[string]NetworkConfig{}

// deploymentFile is the YAML shape of a deployments override file.
type deploymentFile struct {
	Networks []struct {
		ID           string `yaml:"id"`
		ChainID      int64  `yaml:"chain_id"`
		RPC          string `yaml:"rpc"`
		Diamond      string `yaml:"diamond"`
		FundingToken string `yaml:"funding_token"`
		OracleFeeWei string `yaml:"oracle_fee_wei"`
	} `yaml:"networks"`
}

// LoadDeployments merges a YAML deployments file over the builtin table.
// New ids add networks; known ids replace them wholesale. Contract
// redeployments ship as config this way, without a rebuild. The whole file
// validates before anything is applied: a bad entry anywhere leaves the
// registry untouched, so a load failure can never split trading between
// old and new addresses.
func LoadDeployments(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read deployments file: %w", err)
	}

	var df deploymentFile
	if err := yaml.Unmarshal(raw, &df); err != nil {
		return fmt.Errorf("failed to parse deployments file %s: %w", path, err)
	}

	staged := make(map[string]NetworkConfig, len(df.Networks))
	for _, n := range df.Networks {
		id := strings.ToLower(strings.TrimSpace(n.ID))
		if id == "" {
			return fmt.Errorf("deployments file %s: network entry missing id", path)
		}
		if n.ChainID <= 0 {
			return fmt.Errorf("deployments file %s: network %q: invalid chain_id %d", path, id, n.ChainID)
		}
		if !common.IsHexAddress(n.Diamond) {
			return fmt.Errorf("deployments file %s: network %q: invalid diamond address %q", path, id, n.Diamond)
		}
		if !common.IsHexAddress(n.FundingToken) {
			return fmt.Errorf("deployments file %s: network %q: invalid funding_token address %q", path, id, n.FundingToken)
		}

		fee := new(big.Int)
		if n.OracleFeeWei != "" {
			if _, ok := fee.SetString(n.OracleFeeWei, 10); !ok || fee.Sign() < 0 {
				return fmt.Errorf("deployments file %s: network %q: invalid oracle_fee_wei %q", path, id, n.OracleFeeWei)
			}
		}

		staged[id] = NetworkConfig{
			ID:           id,
			ChainID:      n.ChainID,
			RPCEndpoint:  n.RPC,
			Diamond:      common.HexToAddress(n.Diamond),
			FundingToken: common.HexToAddress(n.FundingToken),
			OracleFeeWei: fee,
		}
	}

	for id, cfg := range staged {
		overrideNetworks[id] = cfg
		logger.Infof("✓ Loaded network override %s (chain %d, diamond %s)", id, cfg.ChainID, ToChecksumAddress(cfg.Diamond.Hex()))
	}
	return nil
}

// ResetDeployments drops all loaded overrides (for tests).
func ResetDeployments() {
	overrideNetworks = map[string]NetworkConfig{}
}
