package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Invocation is a fully built contract call.
type Invocation struct {
	To   common.Address
	Data []byte
}

// ERC20 ABI JSON. deposit/withdraw are only served by the wrapped native token.
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "deposit",
		"outputs": [],
		"payable": true,
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [{"name": "amount", "type": "uint256"}],
		"name": "withdraw",
		"outputs": [],
		"type": "function"
	}
]`

// ERC721 ABI JSON
const erc721ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "ownerOf",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "tokenId", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "tokenId", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "getApproved",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "operator", "type": "address"},
			{"name": "approved", "type": "bool"}
		],
		"name": "setApprovalForAll",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// ERC1155 ABI JSON (the ConditionalTokens surface used for outcome tokens)
const erc1155ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "id", "type": "uint256"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "id", "type": "uint256"},
			{"name": "amount", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "safeTransferFrom",
		"outputs": [],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "operator", "type": "address"},
			{"name": "approved", "type": "bool"}
		],
		"name": "setApprovalForAll",
		"outputs": [],
		"type": "function"
	}
]`

// ERC1271 ABI JSON
const erc1271ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "isValidSignature",
		"outputs": [{"name": "", "type": "bytes4"}],
		"type": "function"
	}
]`

// Amount getter ABI JSON. requestedAmount is the taking amount for getMakingAmount
// and the making amount for getTakingAmount.
const amountGetterABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "orderMakingAmount", "type": "uint256"},
			{"name": "orderTakingAmount", "type": "uint256"},
			{"name": "requestedAmount", "type": "uint256"},
			{"name": "filledMakingAmount", "type": "uint256"},
			{"name": "remainingMakingAmount", "type": "uint256"},
			{"name": "extraData", "type": "bytes"}
		],
		"name": "getMakingAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "orderMakingAmount", "type": "uint256"},
			{"name": "orderTakingAmount", "type": "uint256"},
			{"name": "requestedAmount", "type": "uint256"},
			{"name": "filledMakingAmount", "type": "uint256"},
			{"name": "remainingMakingAmount", "type": "uint256"},
			{"name": "extraData", "type": "bytes"}
		],
		"name": "getTakingAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	}
]`

// Taker interaction ABI JSON
const takerInteractionABIJSON = `[
	{
		"constant": false,
		"inputs": [
			{"name": "orderHash", "type": "bytes32"},
			{"name": "maker", "type": "address"},
			{"name": "taker", "type": "address"},
			{"name": "makingAmount", "type": "uint256"},
			{"name": "takingAmount", "type": "uint256"},
			{"name": "remainingMakingAmount", "type": "uint256"},
			{"name": "extraData", "type": "bytes"}
		],
		"name": "takerInteraction",
		"outputs": [],
		"type": "function"
	}
]`

// Predicate primitives ABI JSON
const predicateABIJSON = `[
	{
		"inputs": [
			{"name": "offsets", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "and",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "offsets", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "or",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [{"name": "data", "type": "bytes"}],
		"name": "not",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "eq",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "lt",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		],
		"name": "gt",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [{"name": "time", "type": "uint256"}],
		"name": "timestampBelow",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "series", "type": "uint256"},
			{"name": "epoch", "type": "uint256"}
		],
		"name": "nonceEquals",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"inputs": [
			{"name": "target", "type": "address"},
			{"name": "data", "type": "bytes"}
		],
		"name": "arbitraryStaticCall",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	}
]`

// Protocol events ABI JSON
const eventsABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "orderHash", "type": "bytes32"},
			{"indexed": false, "name": "makingAmount", "type": "uint256"},
			{"indexed": false, "name": "remainingAmount", "type": "uint256"}
		],
		"name": "OrderFilled",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "name": "orderHash", "type": "bytes32"},
			{"indexed": false, "name": "makingAmount", "type": "uint256"}
		],
		"name": "OrderFilledRFQ",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [{"indexed": true, "name": "orderHash", "type": "bytes32"}],
		"name": "OrderCancelled",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "maker", "type": "address"},
			{"indexed": false, "name": "slotIndex", "type": "uint256"},
			{"indexed": false, "name": "slotValue", "type": "uint256"}
		],
		"name": "BitInvalidatorUpdated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "maker", "type": "address"},
			{"indexed": false, "name": "series", "type": "uint256"},
			{"indexed": false, "name": "newEpoch", "type": "uint256"}
		],
		"name": "EpochIncreased",
		"type": "event"
	}
]`

// Engine query ABI JSON. These are the read-only methods predicates reach
// through a static call on the engine's own account.
const engineQueryABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "series", "type": "uint256"}
		],
		"name": "epoch",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "series", "type": "uint256"},
			{"name": "makerEpoch", "type": "uint256"}
		],
		"name": "epochEquals",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "orderHash", "type": "bytes32"}
		],
		"name": "remaining",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "orderHash", "type": "bytes32"}
		],
		"name": "rawRemaining",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "slot", "type": "uint256"}
		],
		"name": "bitInvalidatorForOrder",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	}
]`

var (
	erc20ABI            = mustParseABI("ERC20", erc20ABIJSON)
	erc721ABI           = mustParseABI("ERC721", erc721ABIJSON)
	erc1155ABI          = mustParseABI("ERC1155", erc1155ABIJSON)
	erc1271ABI          = mustParseABI("ERC1271", erc1271ABIJSON)
	amountGetterABI     = mustParseABI("AmountGetter", amountGetterABIJSON)
	takerInteractionABI = mustParseABI("TakerInteraction", takerInteractionABIJSON)
	predicateABI        = mustParseABI("Predicate", predicateABIJSON)
	eventsABI           = mustParseABI("Events", eventsABIJSON)
	engineQueryABI      = mustParseABI("EngineQuery", engineQueryABIJSON)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// GetERC20ABI returns the parsed ERC20 ABI
func GetERC20ABI() abi.ABI { return erc20ABI }

// GetERC721ABI returns the parsed ERC721 ABI
func GetERC721ABI() abi.ABI { return erc721ABI }

// GetERC1155ABI returns the parsed ERC1155 ABI
func GetERC1155ABI() abi.ABI { return erc1155ABI }

// GetERC1271ABI returns the parsed ERC1271 ABI
func GetERC1271ABI() abi.ABI { return erc1271ABI }

// GetAmountGetterABI returns the parsed amount getter ABI
func GetAmountGetterABI() abi.ABI { return amountGetterABI }

// GetTakerInteractionABI returns the parsed taker interaction ABI
func GetTakerInteractionABI() abi.ABI { return takerInteractionABI }

// GetPredicateABI returns the parsed predicate primitives ABI
func GetPredicateABI() abi.ABI { return predicateABI }

// GetEventsABI returns the parsed protocol events ABI
func GetEventsABI() abi.ABI { return eventsABI }

// GetEngineQueryABI returns the parsed engine query ABI
func GetEngineQueryABI() abi.ABI { return engineQueryABI }

// ERC1271MagicValue is returned by isValidSignature for an accepted signature.
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
