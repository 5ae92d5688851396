package evm

// ABI of the multi-stage escrow contract. The contract derives the escrow
// id from the hashlock and the funder, so the adapter can recompute it
// without waiting for the initiate event.
const escrowABI = `[
	{
		"type": "function",
		"name": "initiate",
		"stateMutability": "payable",
		"inputs": [
			{"name": "counterparty", "type": "address"},
			{"name": "hashlock", "type": "bytes32"},
			{"name": "safetyDeposit", "type": "uint256"},
			{"name": "timelocks", "type": "bytes16"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "claim",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "id", "type": "bytes32"},
			{"name": "preimage", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "cancel",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "id", "type": "bytes32"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "escrows",
		"stateMutability": "view",
		"inputs": [{"name": "id", "type": "bytes32"}],
		"outputs": [
			{"name": "funder", "type": "address"},
			{"name": "counterparty", "type": "address"},
			{"name": "hashlock", "type": "bytes32"},
			{"name": "amount", "type": "uint256"},
			{"name": "safetyDeposit", "type": "uint256"},
			{"name": "timelocks", "type": "bytes16"},
			{"name": "state", "type": "uint8"}
		]
	},
	{
		"type": "event",
		"name": "Claimed",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "caller", "type": "address", "indexed": false},
			{"name": "preimage", "type": "bytes32", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "Cancelled",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "caller", "type": "address", "indexed": false}
		],
		"anonymous": false
	}
]`
