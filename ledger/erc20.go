package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/engine"
)

var (
	erc20ABI = chain.GetERC20ABI()

	// Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)
	PermitTypeHash = crypto.Keccak256Hash([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
	))

	permitArgs = abi.Arguments{
		{Type: mustType("bytes32")},
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ERC20 is a fungible token with EIP-2612 permits. An unlimited allowance
// is never decreased, and transferFrom by the owner needs no allowance.
type ERC20 struct {
	Address  common.Address
	Name     string
	Decimals uint8
}

// NewERC20 creates a token to be deployed at addr.
func NewERC20(addr common.Address, name string, decimals uint8) *ERC20 {
	return &ERC20{Address: addr, Name: name, Decimals: decimals}
}

func balanceSlot(owner common.Address) common.Hash {
	return mappingSlot("balance", owner.Bytes())
}

func allowanceSlot(owner, spender common.Address) common.Hash {
	return mappingSlot("allowance", owner.Bytes(), spender.Bytes())
}

func nonceSlot(owner common.Address) common.Hash {
	return mappingSlot("nonce", owner.Bytes())
}

// Run implements Contract.
func (t *ERC20) Run(ctx context.Context, l *Ledger, msg *engine.Message) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, revert("%s does not accept value", t.Name)
	}
	method, args, err := decodeCall(&erc20ABI, msg.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(t.BalanceOf(l, args[0].(common.Address)))
	case "allowance":
		return method.Outputs.Pack(t.Allowance(l, args[0].(common.Address), args[1].(common.Address)))
	case "decimals":
		return method.Outputs.Pack(t.Decimals)
	case "nonces":
		return method.Outputs.Pack(t.Nonce(l, args[0].(common.Address)))
	case "approve":
		if err := t.approve(l, msg.From, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return wordTrue, nil
	case "transfer":
		if err := t.move(l, msg.From, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return wordTrue, nil
	case "transferFrom":
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if from != msg.From {
			if err := t.spendAllowance(l, from, msg.From, amount); err != nil {
				return nil, err
			}
		}
		if err := t.move(l, from, to, amount); err != nil {
			return nil, err
		}
		return wordTrue, nil
	case "permit":
		return nil, t.permit(l, args)
	default:
		return nil, revert("%s does not implement %s", t.Name, method.Name)
	}
}

// BalanceOf returns the token balance of owner.
func (t *ERC20) BalanceOf(l *Ledger, owner common.Address) *big.Int {
	return l.getUint(t.Address, balanceSlot(owner))
}

// Allowance returns what spender may move on behalf of owner.
func (t *ERC20) Allowance(l *Ledger, owner, spender common.Address) *big.Int {
	return l.getUint(t.Address, allowanceSlot(owner, spender))
}

// Nonce returns the next permit nonce of owner.
func (t *ERC20) Nonce(l *Ledger, owner common.Address) *big.Int {
	return l.getUint(t.Address, nonceSlot(owner))
}

// Mint credits new tokens to owner.
func (t *ERC20) Mint(l *Ledger, owner common.Address, amount *big.Int) error {
	bal := t.BalanceOf(l, owner)
	return l.setUint(t.Address, balanceSlot(owner), bal.Add(bal, amount))
}

func (t *ERC20) burn(l *Ledger, owner common.Address, amount *big.Int) error {
	bal := t.BalanceOf(l, owner)
	if bal.Cmp(amount) < 0 {
		return revert("%s: burn of %s exceeds balance %s", t.Name, amount, bal)
	}
	return l.setUint(t.Address, balanceSlot(owner), bal.Sub(bal, amount))
}

func (t *ERC20) move(l *Ledger, from, to common.Address, amount *big.Int) error {
	if err := t.burn(l, from, amount); err != nil {
		return revert("%s: transfer of %s from %s exceeds balance", t.Name, amount, from.Hex())
	}
	return t.Mint(l, to, amount)
}

func (t *ERC20) approve(l *Ledger, owner, spender common.Address, amount *big.Int) error {
	return l.setUint(t.Address, allowanceSlot(owner, spender), amount)
}

func (t *ERC20) spendAllowance(l *Ledger, owner, spender common.Address, amount *big.Int) error {
	allowance := t.Allowance(l, owner, spender)
	if allowance.Cmp(maxUint256) == 0 {
		return nil
	}
	if allowance.Cmp(amount) < 0 {
		return revert("%s: allowance %s of %s for %s is below %s", t.Name, allowance, spender.Hex(), owner.Hex(), amount)
	}
	return t.approve(l, owner, spender, allowance.Sub(allowance, amount))
}

// domain returns the EIP-712 domain permits are signed under.
func (t *ERC20) domain(chainID *big.Int) *chain.EIP712Domain {
	return &chain.EIP712Domain{
		Name:              t.Name,
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: t.Address,
	}
}

func (t *ERC20) permitDigest(chainID *big.Int, owner, spender common.Address, value, nonce, deadline *big.Int) (common.Hash, error) {
	enc, err := permitArgs.Pack(PermitTypeHash, owner, spender, value, nonce, deadline)
	if err != nil {
		return common.Hash{}, err
	}
	return t.domain(chainID).TypedDataHash(crypto.Keccak256Hash(enc)), nil
}

func (t *ERC20) permit(l *Ledger, args []interface{}) error {
	owner := args[0].(common.Address)
	spender := args[1].(common.Address)
	value := args[2].(*big.Int)
	deadline := args[3].(*big.Int)
	v := args[4].(uint8)
	r := args[5].([32]byte)
	s := args[6].([32]byte)

	if deadline.Cmp(new(big.Int).SetUint64(l.time)) < 0 {
		return revert("%s: permit expired at %s", t.Name, deadline)
	}
	nonce := t.Nonce(l, owner)
	digest, err := t.permitDigest(l.chainID, owner, spender, value, nonce, deadline)
	if err != nil {
		return revert("%s: %v", t.Name, err)
	}
	sig := make([]byte, 0, 65)
	sig = append(sig, r[:]...)
	sig = append(sig, s[:]...)
	sig = append(sig, v)
	signer, err := chain.RecoverSigner(digest, sig)
	if err != nil || signer != owner {
		return revert("%s: invalid permit signature for %s", t.Name, owner.Hex())
	}
	if err := l.setUint(t.Address, nonceSlot(owner), nonce.Add(nonce, common.Big1)); err != nil {
		return err
	}
	return t.approve(l, owner, spender, value)
}

// PermitCalldata signs a permit for the key's address at its current nonce
// and returns the permit calldata.
func (t *ERC20) PermitCalldata(l *Ledger, key *ecdsa.PrivateKey, spender common.Address, value, deadline *big.Int) ([]byte, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	digest, err := t.permitDigest(l.chainID, owner, spender, value, t.Nonce(l, owner), deadline)
	if err != nil {
		return nil, err
	}
	sig, err := chain.SignHash(digest, key)
	if err != nil {
		return nil, err
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	return erc20ABI.Pack("permit", owner, spender, value, deadline, sig[64], r, s)
}
