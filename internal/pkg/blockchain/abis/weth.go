package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetWETHABI returns the ABI for WETH9: the ERC20 subset plus deposit/withdraw.
func GetWETHABI() (*abi.ABI, error) {
	return ParseABI(`[` + erc20Functions + `,
		{
			"inputs": [],
			"name": "deposit",
			"outputs": [],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"inputs": [{"name": "wad", "type": "uint256"}],
			"name": "withdraw",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
}
