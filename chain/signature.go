package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature errors
var (
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	ErrInvalidSignatureV      = errors.New("invalid signature recovery id")
	ErrMalleableSignature     = errors.New("non-canonical signature")
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
	vsParityBit    = new(big.Int).Lsh(common.Big1, 255)
)

// SignHash signs a digest and returns r ++ s ++ v with v in {27, 28}.
func SignHash(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that produced a 65-byte r ++ s ++ v
// signature. Only v in {27, 28} and s in the lower half order are accepted,
// so each signature has exactly one valid encoding.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidSignatureLength, len(sig))
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidSignatureV, v)
	}
	return recoverAddress(hash, new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64]), v-27)
}

// RecoverCompact recovers the signer of a 64-byte r ++ vs signature. The top
// bit of vs is the recovery parity and the remaining bits are s, which must
// be in the lower half order.
func RecoverCompact(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 64 {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidSignatureLength, len(sig))
	}
	vs := new(big.Int).SetBytes(sig[32:])
	var v byte
	if vs.Cmp(vsParityBit) >= 0 {
		v = 1
		vs.Sub(vs, vsParityBit)
	}
	return recoverAddress(hash, new(big.Int).SetBytes(sig[:32]), vs, v)
}

func recoverAddress(hash common.Hash, r, s *big.Int, v byte) (common.Address, error) {
	if s.Cmp(secp256k1HalfN) > 0 {
		return common.Address{}, ErrMalleableSignature
	}
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, ErrMalleableSignature
	}
	sig := make([]byte, crypto.SignatureLength)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = v
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ToCompact converts r ++ s ++ v into r ++ vs.
func ToCompact(sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignatureLength, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignatureV, sig[64])
	}
	out := make([]byte, 64)
	copy(out, sig[:64])
	if v == 1 {
		out[32] |= 0x80
	}
	return out, nil
}

// FlipS returns the high-s twin of a signature: s' = n - s with the parity
// flipped. It recovers the same key but is not canonical.
func FlipS(sig []byte) []byte {
	out := common.CopyBytes(sig)
	s := new(big.Int).SetBytes(sig[32:64])
	new(big.Int).Sub(secp256k1N, s).FillBytes(out[32:64])
	if len(out) == crypto.SignatureLength {
		if out[64] == 27 {
			out[64] = 28
		} else {
			out[64] = 27
		}
	}
	return out
}
