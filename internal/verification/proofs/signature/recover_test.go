package signature

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonalMessageHashMatchesGeth(t *testing.T) {
	msg := "tokenverif wants you to verify control of a token contract."
	assert.Equal(t, accounts.TextHash([]byte(msg)), personalMessageHash(msg))
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := crypto.Sign(personalMessageHash("hello"), key)
	require.NoError(t, err)

	got, err := RecoverSigner("hello", hexutil.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := RecoverSigner("hello!", hexutil.Encode(sig))
	require.NoError(t, err)
	assert.NotEqual(t, want, other)
}

func TestDecodeSignatureRejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(personalMessageHash("x"), key)
	require.NoError(t, err)

	badV := append([]byte{}, sig...)
	badV[64] = 5

	_, err = decodeSignature(hexutil.Encode(badV))
	assert.ErrorIs(t, err, errSignatureV)

	_, err = decodeSignature(hexutil.Encode(sig[:64]))
	assert.ErrorIs(t, err, errSignatureLength)

	_, err = decodeSignature("0xzz")
	assert.ErrorIs(t, err, errSignatureEncoding)

	zero := make([]byte, 65)
	_, err = decodeSignature(hexutil.Encode(zero))
	assert.ErrorIs(t, err, errSignatureValues)
}
