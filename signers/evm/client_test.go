package evm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewClientSignerFromPrivateKey(t *testing.T) {
	withPrefix, err := NewClientSignerFromPrivateKey(testKeyHex)
	require.NoError(t, err)
	withoutPrefix, err := NewClientSignerFromPrivateKey(testKeyHex[2:])
	require.NoError(t, err)
	assert.Equal(t, withPrefix.Address(), withoutPrefix.Address())

	_, err = NewClientSignerFromPrivateKey("0xnothex")
	assert.Error(t, err)
}

func TestClientSigner(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testKeyHex)
	require.NoError(t, err)

	accounts, err := signer.RequestAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, signer.Address(), accounts[0])

	now := time.Unix(1_700_000_000, 0)
	p, err := permission.Create(signer.Address(), common.HexToAddress("0x9876543210987654321098765432109876543210"),
		permission.NativeToken, big.NewInt(1000), time.Hour, now, now.Add(24*time.Hour),
		permission.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	t.Run("signature recovers to the signer", func(t *testing.T) {
		sp, err := permission.Sign(context.Background(), p, permission.DefaultDomain(spendauth.ChainIDBaseSepolia), signer)
		require.NoError(t, err)
		require.Len(t, sp.Signature, 65)
		assert.Contains(t, []byte{27, 28}, sp.Signature[64])

		payload, err := sp.Payload()
		require.NoError(t, err)
		recovered, err := typeddata.RecoverSigner(payload, sp.Signature)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), recovered)
	})

	t.Run("other account is refused", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		q := p.Clone()
		q.Account = crypto.PubkeyToAddress(other.PublicKey)

		_, err = permission.Sign(context.Background(), q, permission.DefaultDomain(spendauth.ChainIDBaseSepolia), signer)
		require.Error(t, err)
		assert.ErrorIs(t, err, spendauth.ErrSigningRejected)
		assert.Equal(t, spendauth.ReasonSignerMismatch, spendauth.CodeOf(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := signer.RequestAccounts(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
