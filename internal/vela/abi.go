package vela

import "github.com/ethereum/go-ethereum/common"

// Vela Exchange vault on Arbitrum.
var (
	DefaultContractAddress = common.HexToAddress("0x5957582F020301a2f732ad17a69aB2D8B2741241")
	DefaultIndexToken      = common.HexToAddress("0xA6E249FFB81cF6f28aB021C3Bd97620283C7335f") // ETH/USD
)

// NewOrderTopic is topic0 of NewOrder logs emitted by the deployed vault. It
// does not match the hash of the ABI signature below, whose labels and types
// describe only the data layout.
var NewOrderTopic = common.HexToHash("0xe508fdc8bb11e26fd52e43d09c05ba1b7a778fe93ba8a3814b608aa29c3e6cdd")

// eventTopics pins events whose on-chain topic differs from the derived one.
var eventTopics = map[string]common.Hash{
	EventNewOrder: NewOrderTopic,
}

const (
	FuncNewPositionOrder = "newPositionOrder"
	FuncDecreasePosition = "decreasePosition"
	EventNewOrder        = "NewOrder"

	// PriceDecimals is the fixed-point scale used for prices and USD amounts.
	PriceDecimals = 30

	OrderTypeMarket uint8 = 0

	// NewOrderPositionField is the NewOrder input slot that carries the
	// position id. The deployed ABI labels this slot "isLong"; the labels are
	// shifted, so the slot is addressed by index, not by name.
	NewOrderPositionField = 3
)

const contractABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"_indexToken","type":"address"},
    {"internalType":"bool","name":"_isLong","type":"bool"},
    {"internalType":"uint8","name":"_orderType","type":"uint8"},
    {"internalType":"uint256[]","name":"_params","type":"uint256[]"},
    {"internalType":"address","name":"_refer","type":"address"}
  ],"name":"newPositionOrder","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_indexToken","type":"address"},
    {"internalType":"uint256","name":"_sizeDelta","type":"uint256"},
    {"internalType":"bool","name":"_isLong","type":"bool"},
    {"internalType":"uint256","name":"_posId","type":"uint256"}
  ],"name":"decreasePosition","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"bytes32","name":"key","type":"bytes32"},
    {"indexed":false,"internalType":"address","name":"account","type":"address"},
    {"indexed":false,"internalType":"address","name":"indexToken","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"isLong","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"posId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"positionType","type":"uint256"},
    {"indexed":false,"internalType":"uint8","name":"orderStatus","type":"uint8"},
    {"indexed":false,"internalType":"uint256","name":"triggerData","type":"uint256"}
  ],"name":"NewOrder","type":"event"}
]`
