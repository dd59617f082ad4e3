package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetLendingPoolAddressesProviderABI returns the ABI for the Aave v2
// ILendingPoolAddressesProvider. getLendingPool() resolves the current pool proxy.
func GetLendingPoolAddressesProviderABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [],
			"name": "getLendingPool",
			"outputs": [
				{"name": "", "type": "address"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "getPriceOracle",
			"outputs": [
				{"name": "", "type": "address"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
}
