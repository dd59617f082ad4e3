package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a contract the borrow flow talks to.
type Role string

const (
	RoleWrappedNative         Role = "wrapped_native"
	RolePoolAddressesProvider Role = "pool_addresses_provider"
	RoleBorrowAsset           Role = "borrow_asset"
	RoleBorrowAssetFeed       Role = "borrow_asset_feed"
	RoleReferenceFeed         Role = "reference_feed"
	RoleMulticall3            Role = "multicall3"
)

// requiredRoles must resolve for a run. The reference feed is optional.
var requiredRoles = []Role{
	RoleWrappedNative,
	RolePoolAddressesProvider,
	RoleBorrowAsset,
	RoleBorrowAssetFeed,
	RoleMulticall3,
}

func isKnownRole(r Role) bool {
	switch r {
	case RoleWrappedNative, RolePoolAddressesProvider, RoleBorrowAsset,
		RoleBorrowAssetFeed, RoleReferenceFeed, RoleMulticall3:
		return true
	}
	return false
}

// Network is the address table of one chain.
type Network struct {
	ChainID   uint64          `yaml:"chain_id"`
	Contracts map[Role]string `yaml:"contracts"`
}

// mainnetContracts are the Aave v2 market contracts on Ethereum mainnet. A hardhat node
// forking mainnet sees the same deployments.
var mainnetContracts = map[Role]string{
	RoleWrappedNative:         "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", // WETH9
	RolePoolAddressesProvider: "0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5",
	RoleBorrowAsset:           "0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
	RoleBorrowAssetFeed:       "0x773616E4d11A78F511299002da57A0a94577F1f4", // DAI / ETH
	RoleReferenceFeed:         "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419", // ETH / USD
	RoleMulticall3:            "0xcA11bde05977b3631167028862bE2a173976CA11",
}

func defaultNetworks() map[string]Network {
	return map[string]Network{
		"mainnet": {ChainID: 1, Contracts: copyContracts(mainnetContracts)},
		"hardhat": {ChainID: 31337, Contracts: copyContracts(mainnetContracts)},
	}
}

func copyContracts(in map[Role]string) map[Role]string {
	out := make(map[Role]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeNetworks overlays file entries on the built-in table, role by role.
func mergeNetworks(base, overlay map[string]Network) map[string]Network {
	for name, n := range overlay {
		name = strings.ToLower(strings.TrimSpace(name))
		current, ok := base[name]
		if !ok {
			current = Network{Contracts: map[Role]string{}}
		}
		if n.ChainID != 0 {
			current.ChainID = n.ChainID
		}
		for role, addr := range n.Contracts {
			current.Contracts[role] = strings.TrimSpace(addr)
		}
		base[name] = current
	}
	return base
}

// AddressBook resolves (network, role) pairs.
type AddressBook struct {
	network string
	entry   Network
}

// Network returns the name of the selected network.
func (b AddressBook) Network() string {
	return b.network
}

// ChainID returns the expected chain ID, or 0 when the table does not pin one.
func (b AddressBook) ChainID() uint64 {
	return b.entry.ChainID
}

// Address returns the contract for role, or an error when it is not configured.
func (b AddressBook) Address(role Role) (common.Address, error) {
	raw, ok := b.entry.Contracts[role]
	if !ok || raw == "" {
		return common.Address{}, fmt.Errorf("no %s address configured for network %s", role, b.network)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s address %q for network %s", role, raw, b.network)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address for network %s is the zero address", role, b.network)
	}
	return addr, nil
}

// Optional returns the contract for role, or false when it is not configured.
func (b AddressBook) Optional(role Role) (common.Address, bool, error) {
	if raw, ok := b.entry.Contracts[role]; !ok || raw == "" {
		return common.Address{}, false, nil
	}
	addr, err := b.Address(role)
	if err != nil {
		return common.Address{}, false, err
	}
	return addr, true, nil
}

func (b AddressBook) validate() error {
	for _, role := range requiredRoles {
		if _, err := b.Address(role); err != nil {
			return err
		}
	}
	if _, _, err := b.Optional(RoleReferenceFeed); err != nil {
		return err
	}
	return nil
}

func networkNames(networks map[string]Network) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
