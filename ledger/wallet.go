package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

var erc1271ABI = chain.GetERC1271ABI()

// Wallet is a smart contract account that accepts signatures of its owner
// key through ERC-1271.
type Wallet struct {
	Address common.Address
	Owner   common.Address
}

// Run implements Contract.
func (w *Wallet) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, nil
	}
	method, args, err := decodeCall(&erc1271ABI, msg.Data)
	if err != nil {
		return nil, err
	}
	if method.Name != "isValidSignature" {
		return nil, revert("wallet does not implement %s", method.Name)
	}
	hash := common.Hash(args[0].([32]byte))
	signer, err := chain.RecoverSigner(hash, args[1].([]byte))
	var result [4]byte
	if err == nil && signer == w.Owner {
		result = chain.ERC1271MagicValue
	} else {
		result = [4]byte{0xff, 0xff, 0xff, 0xff}
	}
	return method.Outputs.Pack(result)
}
