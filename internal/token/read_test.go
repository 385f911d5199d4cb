package token

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func encodeUint(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestReadBalanceInvalidHolderMakesNoCalls(t *testing.T) {
	backend := newStubBackend()
	dialer := &countingDialer{backend: backend}
	client := NewReadClient(dialer)

	for _, holder := range []string{"", "0x123", "alice", "0xZZZ1230000000000000000000000000000000001"} {
		_, err := client.ReadBalance(context.Background(), testChain(), mustToken(t), holder)
		require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidAddress), "holder %q: %v", holder, err)
	}
	require.Zero(t, dialer.dials)
	require.Zero(t, backend.total())
}

func TestReadBalanceDecodesAmount(t *testing.T) {
	backend := newStubBackend()
	backend.callOutput = encodeUint(42)
	client := NewReadClient(&countingDialer{backend: backend})

	result, err := client.ReadBalance(context.Background(), testChain(), mustToken(t), testHolder)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testHolder), result.Address)
	require.Equal(t, common.HexToAddress(testToken), result.Token)
	require.Equal(t, int64(42), result.Amount.Int64())
	require.Equal(t, 1, backend.count("eth_call"))
}

func TestReadBalanceNotConfigured(t *testing.T) {
	backend := newStubBackend()
	client := NewReadClient(&countingDialer{backend: backend})

	cfg := testChain()
	cfg.RPCURL = ""
	_, err := client.ReadBalance(context.Background(), cfg, mustToken(t), testHolder)
	require.True(t, xerrors.HasCode(err, xerrors.CodeNotConfigured), "%v", err)

	_, err = client.ReadBalance(context.Background(), testChain(), web3.TokenContract{}, testHolder)
	require.True(t, xerrors.HasCode(err, xerrors.CodeNotConfigured), "%v", err)
	require.Zero(t, backend.total())
}

func TestReadBalanceFailureClassification(t *testing.T) {
	cases := []struct {
		name   string
		output []byte
		err    error
		code   xerrors.Code
	}{
		{"empty return", nil, nil, xerrors.CodeDecodeError},
		{"short return", []byte{0x01, 0x02}, nil, xerrors.CodeDecodeError},
		{"revert", nil, nodeError{code: 3, msg: "execution reverted"}, xerrors.CodeDecodeError},
		{"unreachable", nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}, xerrors.CodeRPCUnavailable},
		{"timeout", nil, context.DeadlineExceeded, xerrors.CodeRPCUnavailable},
		{"rate limited", nil, nodeError{code: -32005, msg: "limit exceeded"}, xerrors.CodeRPCUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newStubBackend()
			backend.callOutput = tc.output
			backend.callErr = tc.err
			client := NewReadClient(&countingDialer{backend: backend})

			_, err := client.ReadBalance(context.Background(), testChain(), mustToken(t), testHolder)
			require.Equal(t, tc.code, xerrors.CodeOf(err), "%v", err)
			require.Equal(t, 1, backend.count("eth_call"), "reads are never retried")
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}
