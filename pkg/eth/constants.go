package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Somnia testnet, where the Oddyssey contract is deployed.
const (
	DefaultChainID uint64 = 50312
	DefaultRPCURL         = "https://dream-rpc.somnia.network"
	DefaultNetwork        = "somnia-testnet"
)

// Network identifies the chain and contract slips are submitted to.
type Network struct {
	Name     string
	ChainID  uint64
	RPCURL   string
	Contract common.Address
}

// DefaultNetworkConfig returns the Somnia testnet without a contract address.
func DefaultNetworkConfig() Network {
	return Network{
		Name:    DefaultNetwork,
		ChainID: DefaultChainID,
		RPCURL:  DefaultRPCURL,
	}
}

// ChainIDBig returns the chain id as a *big.Int for transaction signing.
func (n Network) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// Check returns an error when got is not this network's chain id.
func (n Network) Check(got uint64) error {
	if got != n.ChainID {
		return fmt.Errorf("connected to chain %d, expected %d (%s)", got, n.ChainID, n.Name)
	}
	return nil
}
