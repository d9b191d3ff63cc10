package chain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	nft    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	proto  = common.HexToAddress("0x0000000000000000000000000000000000000100")
)

func TestMakerTraitsRoundTrip(t *testing.T) {
	taker := common.HexToAddress("0x1111111111222222222233333333334444444444")
	traits := MakerTraits{
		NoPartialFills:     true,
		AllowMultipleFills: true,
		NeedCheckEpoch:     true,
		HasExtension:       true,
		UnwrapNative:       true,
		Expiration:         1700000000,
		NonceOrEpoch:       42,
		Series:             7,
	}
	traits.SetAllowedSender(taker)

	decoded := DecodeMakerTraits(traits.Encode())
	assert.Equal(t, traits, decoded)
	assert.True(t, decoded.IsAllowedSender(taker))
	assert.False(t, decoded.IsAllowedSender(tokenA))

	word := traits.Encode()
	assert.Equal(t, uint64(1), new(uint256.Int).Rsh(word, 255).Uint64())
	assert.Equal(t, uint64(7), new(uint256.Int).Rsh(word, 200).Uint64()&uint40Mask)
	assert.Equal(t, uint64(42), new(uint256.Int).Rsh(word, 160).Uint64()&uint40Mask)
}

func TestMakerTraitsDefaults(t *testing.T) {
	var traits MakerTraits
	assert.True(t, traits.Encode().IsZero())
	assert.False(t, traits.IsPrivate())
	assert.True(t, traits.IsAllowedSender(tokenA))
	assert.True(t, traits.UseBitInvalidator())
	assert.False(t, traits.IsExpired(1<<39))

	traits.Expiration = 100
	assert.False(t, traits.IsExpired(100))
	assert.True(t, traits.IsExpired(101))
}

func TestMakerTraitsJSON(t *testing.T) {
	traits := MakerTraits{AllowMultipleFills: true, NonceOrEpoch: 3}
	b, err := json.Marshal(traits)
	require.NoError(t, err)

	var decoded MakerTraits
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, traits, decoded)

	require.NoError(t, json.Unmarshal([]byte(`"0"`), &decoded))
	assert.Equal(t, MakerTraits{}, decoded)
}

func TestAssetEncodingRoundTrip(t *testing.T) {
	assets := []Asset{
		&ERC20Asset{Token: tokenA},
		&ERC721Asset{Token: nft, TokenID: big.NewInt(77)},
		&ERC1155Asset{Token: nft, ID: big.NewInt(5), Data: []byte{1, 2}},
		&CustomAsset{Proxy: proto, Selector: [4]byte{0xde, 0xad, 0xbe, 0xef}, Suffix: []byte{9, 9}},
	}
	for _, a := range assets {
		t.Run(a.Kind().String(), func(t *testing.T) {
			decoded, err := DecodeAsset(a.Encode())
			require.NoError(t, err)
			assert.Equal(t, a, decoded)
		})
	}

	_, err := DecodeAsset([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidAsset)
	_, err = DecodeAsset(append([]byte{9}, tokenA.Bytes()...))
	assert.ErrorIs(t, err, ErrInvalidAsset)
}

func TestAssetBuild(t *testing.T) {
	from, to := common.HexToAddress("0x01"), common.HexToAddress("0x02")

	inv, err := (&ERC20Asset{Token: tokenA}).Build(from, to, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, tokenA, inv.To)
	assert.Equal(t, erc20ABI.Methods["transferFrom"].ID, inv.Data[:4])

	_, err = (&ERC721Asset{Token: nft, TokenID: common.Big1}).Build(from, to, big.NewInt(2))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	custom := &CustomAsset{Proxy: proto, Selector: [4]byte{1, 2, 3, 4}, Suffix: []byte{0xff}}
	inv, err = custom.Build(from, to, big.NewInt(3))
	require.NoError(t, err)
	require.Len(t, inv.Data, 4+96+1)
	assert.Equal(t, []byte{1, 2, 3, 4}, inv.Data[:4])
	assert.Equal(t, from, common.BytesToAddress(inv.Data[4:36]))
	assert.Equal(t, to, common.BytesToAddress(inv.Data[36:68]))
	assert.Equal(t, int64(3), new(big.Int).SetBytes(inv.Data[68:100]).Int64())
	assert.Equal(t, byte(0xff), inv.Data[100])
}

func TestExtensionEncoding(t *testing.T) {
	empty, err := Extension{}.Encode()
	require.NoError(t, err)
	assert.Empty(t, empty)

	ext := Extension{
		TakingAmountGetter: JoinCall(proto, []byte{1}),
		Predicate:          []byte{1, 2, 3, 4},
	}
	enc, err := ext.Encode()
	require.NoError(t, err)
	decoded, err := DecodeExtension(enc)
	require.NoError(t, err)
	assert.Equal(t, ext.TakingAmountGetter, decoded.TakingAmountGetter)
	assert.Equal(t, ext.Predicate, decoded.Predicate)
	assert.Empty(t, decoded.MakingAmountGetter)

	_, err = DecodeExtension([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidExtension)

	assert.ErrorIs(t, Extension{MakerPermit: []byte{1}}.Validate(), ErrInvalidExtension)

	target, payload, err := SplitCall(ext.TakingAmountGetter)
	require.NoError(t, err)
	assert.Equal(t, proto, target)
	assert.Equal(t, []byte{1}, payload)
}

func testOrder() *Order {
	return &Order{
		Salt:         big.NewInt(1),
		Maker:        common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		MakerAsset:   &ERC20Asset{Token: tokenA},
		TakerAsset:   &ERC20Asset{Token: tokenB},
		MakingAmount: big.NewInt(100),
		TakingAmount: big.NewInt(50),
		Traits:       MakerTraits{AllowMultipleFills: true},
	}
}

func TestOrderJSONRoundTrip(t *testing.T) {
	order := testOrder()
	order.Extension.Predicate = []byte{0xaa, 0xbb, 0xcc, 0xdd}
	order.Traits.HasExtension = true

	b, err := json.Marshal(order)
	require.NoError(t, err)
	var decoded Order
	require.NoError(t, json.Unmarshal(b, &decoded))

	domain := NewEIP712Domain(big.NewInt(1), proto)
	h1, err := HashOrder(domain, order)
	require.NoError(t, err)
	h2, err := HashOrder(domain, &decoded)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestOrderHashBindsFields(t *testing.T) {
	domain := NewEIP712Domain(big.NewInt(1), proto)
	base, err := HashOrder(domain, testOrder())
	require.NoError(t, err)

	mutations := map[string]func(o *Order){
		"salt":     func(o *Order) { o.Salt = big.NewInt(2) },
		"receiver": func(o *Order) { o.Receiver = tokenA },
		"asset":    func(o *Order) { o.TakerAsset = &ERC20Asset{Token: tokenA} },
		"amount":   func(o *Order) { o.MakingAmount = big.NewInt(101) },
		"traits":   func(o *Order) { o.Traits.NonceOrEpoch = 1 },
		"extension": func(o *Order) {
			o.Extension.Predicate = []byte{1, 2, 3, 4}
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := testOrder()
			mutate(o)
			h, err := HashOrder(domain, o)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}

	other, err := HashOrder(NewEIP712Domain(big.NewInt(2), proto), testOrder())
	require.NoError(t, err)
	assert.NotEqual(t, base, other, "chain id must be bound into the digest")

	_, err = HashOrder(domain, &Order{})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestOrderTokenIDs(t *testing.T) {
	domain := NewEIP712Domain(big.NewInt(1), proto)
	wide := new(big.Int).Lsh(common.Big1, 256)

	tests := map[string]Asset{
		"erc1155 nil id":       &ERC1155Asset{Token: nft},
		"erc1155 wide id":      &ERC1155Asset{Token: nft, ID: wide},
		"erc1155 negative id":  &ERC1155Asset{Token: nft, ID: big.NewInt(-1)},
		"erc721 nil token id":  &ERC721Asset{Token: nft},
		"erc721 wide token id": &ERC721Asset{Token: nft, TokenID: wide},
	}
	for name, asset := range tests {
		t.Run(name, func(t *testing.T) {
			o := testOrder()
			o.MakerAsset = asset
			_, err := HashOrder(domain, o)
			assert.ErrorIs(t, err, ErrInvalidOrder)

			o = testOrder()
			o.TakerAsset = asset
			_, err = HashOrder(domain, o)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}

	o := testOrder()
	o.MakerAsset = &ERC1155Asset{Token: nft, ID: new(big.Int).Sub(wide, common.Big1)}
	_, err := HashOrder(domain, o)
	require.NoError(t, err)
}

func TestTypedDataMatchesOrderHash(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	builder, err := NewOrderBuilder(proto, 137, key)
	require.NoError(t, err)

	order, err := builder.BuildOrder(&OrderData{
		MakerAsset:         &ERC721Asset{Token: nft, TokenID: big.NewInt(9)},
		TakerAsset:         &ERC20Asset{Token: tokenB},
		MakingAmount:       big.NewInt(1),
		TakingAmount:       big.NewInt(500),
		AllowMultipleFills: true,
		Extension:          Extension{Predicate: []byte{1, 2, 3, 4}},
	})
	require.NoError(t, err)
	assert.True(t, order.Traits.HasExtension)

	td, err := builder.TypedData(order)
	require.NoError(t, err)
	digest, _, err := apitypes.TypedDataAndHash(*td)
	require.NoError(t, err)

	want, err := HashOrder(builder.Domain(), order)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), digest)
}

func TestRFQInfo(t *testing.T) {
	o := &OrderRFQ{ID: 0x1234, Expiration: 0xabcdef}
	id, exp := SplitRFQInfo(o.Info())
	assert.Equal(t, uint64(0x1234), id)
	assert.Equal(t, uint64(0xabcdef), exp)
}

func TestBuilderValidation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	builder, err := NewOrderBuilder(proto, 1, key)
	require.NoError(t, err)

	base := OrderData{
		MakerAsset:   &ERC20Asset{Token: tokenA},
		TakerAsset:   &ERC20Asset{Token: tokenB},
		MakingAmount: big.NewInt(1),
		TakingAmount: big.NewInt(1),
	}
	tests := []struct {
		name   string
		mutate func(d *OrderData)
	}{
		{"no maker asset", func(d *OrderData) { d.MakerAsset = nil }},
		{"zero making", func(d *OrderData) { d.MakingAmount = new(big.Int) }},
		{"wide nonce", func(d *OrderData) { d.Nonce = 1 << 40 }},
		{"epoch with bit invalidator", func(d *OrderData) { d.NeedCheckEpoch = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			_, err := builder.BuildOrder(&d)
			assert.Error(t, err)
		})
	}

	signed, err := builder.BuildSignedOrder(&base)
	require.NoError(t, err)
	hash, err := HashOrder(builder.Domain(), signed.Order)
	require.NoError(t, err)
	signer, err := RecoverSigner(hash, signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, builder.Maker(), signer)
}
