package engine

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/limit-order-go/chain"
)

// signatureForm selects the EOA signature encoding a path accepts.
type signatureForm int

const (
	signatureFull    signatureForm = iota // r ++ s ++ v
	signatureCompact                      // r ++ vs
)

// validateSignature checks that signer authorized hash. Contract accounts are
// asked through a read-only isValidSignature call; any revert or a result
// other than the magic value is a bad signature.
func validateSignature(ctx context.Context, r Reader, self, signer common.Address, hash common.Hash,
	sig []byte, form signatureForm) error {

	isContract, err := r.HasCode(ctx, signer)
	if err != nil {
		return err
	}
	if isContract {
		return validateContractSignature(ctx, r, self, signer, hash, sig)
	}

	var recovered common.Address
	if form == signatureCompact {
		recovered, err = chain.RecoverCompact(hash, sig)
	} else {
		recovered, err = chain.RecoverSigner(hash, sig)
	}
	if err != nil {
		return wrapError(ErrBadSignature, err, "order %s", hash.Hex())
	}
	if recovered != signer {
		return newError(ErrBadSignature, "order %s signed by %s, not %s", hash.Hex(), recovered.Hex(), signer.Hex())
	}
	return nil
}

func validateContractSignature(ctx context.Context, r Reader, self, wallet common.Address, hash common.Hash, sig []byte) error {
	if sig == nil {
		sig = []byte{}
	}
	data, err := chain.GetERC1271ABI().Pack("isValidSignature", hash, sig)
	if err != nil {
		return wrapError(ErrBadSignature, err, "encode isValidSignature")
	}
	result, err := r.StaticCall(ctx, self, wallet, data)
	if err != nil {
		return wrapError(ErrBadSignature, err, "isValidSignature on %s", wallet.Hex())
	}
	magic := chain.ERC1271MagicValue
	if len(result) != 32 || !bytes.Equal(result[:4], magic[:]) {
		return newError(ErrBadSignature, "wallet %s rejected order %s", wallet.Hex(), hash.Hex())
	}
	return nil
}
