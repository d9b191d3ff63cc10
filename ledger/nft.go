package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

var (
	erc721ABI  = chain.GetERC721ABI()
	erc1155ABI = chain.GetERC1155ABI()
)

func operatorSlot(owner, operator common.Address) common.Hash {
	return mappingSlot("operator", owner.Bytes(), operator.Bytes())
}

func isApprovedForAll(l *Ledger, token, owner, operator common.Address) bool {
	return l.GetState(token, operatorSlot(owner, operator)) != (common.Hash{})
}

func setApprovalForAll(l *Ledger, token, owner, operator common.Address, approved bool) error {
	var v common.Hash
	if approved {
		v = common.BytesToHash(wordTrue)
	}
	return l.SetState(token, operatorSlot(owner, operator), v)
}

// ERC721 is a non-fungible token.
type ERC721 struct {
	Address common.Address
	Name    string
}

func ownerSlot(id *big.Int) common.Hash {
	return mappingSlot("owner", common.BigToHash(id).Bytes())
}

func approvedSlot(id *big.Int) common.Hash {
	return mappingSlot("approved", common.BigToHash(id).Bytes())
}

// Run implements Contract.
func (t *ERC721) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	method, args, err := decodeCall(&erc721ABI, msg.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "ownerOf":
		owner := t.OwnerOf(l, args[0].(*big.Int))
		if owner == (common.Address{}) {
			return nil, revert("%s: token %s does not exist", t.Name, args[0])
		}
		return method.Outputs.Pack(owner)
	case "getApproved":
		return method.Outputs.Pack(common.BytesToAddress(l.GetState(t.Address, approvedSlot(args[0].(*big.Int))).Bytes()))
	case "isApprovedForAll":
		return method.Outputs.Pack(isApprovedForAll(l, t.Address, args[0].(common.Address), args[1].(common.Address)))
	case "approve":
		id := args[1].(*big.Int)
		owner := t.OwnerOf(l, id)
		if owner != msg.From && !isApprovedForAll(l, t.Address, owner, msg.From) {
			return nil, revert("%s: %s may not approve token %s", t.Name, msg.From.Hex(), id)
		}
		return nil, l.SetState(t.Address, approvedSlot(id), common.BytesToHash(args[0].(common.Address).Bytes()))
	case "setApprovalForAll":
		return nil, setApprovalForAll(l, t.Address, msg.From, args[0].(common.Address), args[1].(bool))
	case "transferFrom":
		return nil, t.transferFrom(l, msg.From, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
	default:
		return nil, revert("%s does not implement %s", t.Name, method.Name)
	}
}

// OwnerOf returns the owner of a token, zero if it was never minted.
func (t *ERC721) OwnerOf(l *Ledger, id *big.Int) common.Address {
	return common.BytesToAddress(l.GetState(t.Address, ownerSlot(id)).Bytes())
}

// Mint creates token id owned by to.
func (t *ERC721) Mint(l *Ledger, to common.Address, id *big.Int) error {
	if t.OwnerOf(l, id) != (common.Address{}) {
		return revert("%s: token %s already minted", t.Name, id)
	}
	return l.SetState(t.Address, ownerSlot(id), common.BytesToHash(to.Bytes()))
}

func (t *ERC721) transferFrom(l *Ledger, caller, from, to common.Address, id *big.Int) error {
	owner := t.OwnerOf(l, id)
	if owner != from {
		return revert("%s: token %s is not owned by %s", t.Name, id, from.Hex())
	}
	approved := common.BytesToAddress(l.GetState(t.Address, approvedSlot(id)).Bytes())
	if caller != owner && caller != approved && !isApprovedForAll(l, t.Address, owner, caller) {
		return revert("%s: %s may not move token %s", t.Name, caller.Hex(), id)
	}
	if err := l.SetState(t.Address, approvedSlot(id), common.Hash{}); err != nil {
		return err
	}
	return l.SetState(t.Address, ownerSlot(id), common.BytesToHash(to.Bytes()))
}

// ERC1155 is a multi-token.
type ERC1155 struct {
	Address common.Address
	Name    string
}

func multiBalanceSlot(owner common.Address, id *big.Int) common.Hash {
	return mappingSlot("balance", owner.Bytes(), common.BigToHash(id).Bytes())
}

// Run implements Contract.
func (t *ERC1155) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	method, args, err := decodeCall(&erc1155ABI, msg.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(t.BalanceOf(l, args[0].(common.Address), args[1].(*big.Int)))
	case "isApprovedForAll":
		return method.Outputs.Pack(isApprovedForAll(l, t.Address, args[0].(common.Address), args[1].(common.Address)))
	case "setApprovalForAll":
		return nil, setApprovalForAll(l, t.Address, msg.From, args[0].(common.Address), args[1].(bool))
	case "safeTransferFrom":
		from, to := args[0].(common.Address), args[1].(common.Address)
		id, amount := args[2].(*big.Int), args[3].(*big.Int)
		if msg.From != from && !isApprovedForAll(l, t.Address, from, msg.From) {
			return nil, revert("%s: %s is not an operator of %s", t.Name, msg.From.Hex(), from.Hex())
		}
		bal := t.BalanceOf(l, from, id)
		if bal.Cmp(amount) < 0 {
			return nil, revert("%s: transfer of %s of id %s exceeds balance %s", t.Name, amount, id, bal)
		}
		if err := l.setUint(t.Address, multiBalanceSlot(from, id), bal.Sub(bal, amount)); err != nil {
			return nil, err
		}
		return nil, t.Mint(l, to, id, amount)
	default:
		return nil, revert("%s does not implement %s", t.Name, method.Name)
	}
}

// BalanceOf returns the balance of owner in token id.
func (t *ERC1155) BalanceOf(l *Ledger, owner common.Address, id *big.Int) *big.Int {
	return l.getUint(t.Address, multiBalanceSlot(owner, id))
}

// Mint credits amount of token id to to.
func (t *ERC1155) Mint(l *Ledger, to common.Address, id, amount *big.Int) error {
	bal := t.BalanceOf(l, to, id)
	return l.setUint(t.Address, multiBalanceSlot(to, id), bal.Add(bal, amount))
}
