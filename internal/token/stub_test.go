package token

import (
	"context"
	"math/big"
	"sync"

	"TokenAction-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testToken  = "0x00000000000000000000000000000000000000aa"
	testHolder = "0xAbC1230000000000000000000000000000000001"
)

// nodeError mimics a JSON-RPC error object returned by a node.
type nodeError struct {
	code int
	msg  string
	data any
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }
func (e nodeError) ErrorData() any { return e.data }

// stubBackend records every transport call.
type stubBackend struct {
	mu    sync.Mutex
	calls map[string]int

	callOutput []byte
	callErr    error

	chainID  *big.Int
	nonce    uint64
	nonceErr error
	baseFee  *big.Int

	estimate    uint64
	estimateErr error

	sendHash common.Hash
	sendErr  error
	sent     []*types.Transaction
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		calls:    make(map[string]int),
		chainID:  big.NewInt(11155111),
		nonce:    7,
		estimate: 52000,
	}
}

func (s *stubBackend) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

func (s *stubBackend) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *stubBackend) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubBackend) CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.record("eth_call")
	return s.callOutput, s.callErr
}

func (s *stubBackend) ChainID(ctx context.Context) (*big.Int, error) {
	s.record("eth_chainId")
	return s.chainID, nil
}

func (s *stubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.record("eth_getTransactionCount")
	return s.nonce, s.nonceErr
}

func (s *stubBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	s.record("eth_getBlockByNumber")
	return &types.Header{Number: big.NewInt(100), BaseFee: s.baseFee}, nil
}

func (s *stubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	s.record("eth_gasPrice")
	return big.NewInt(3_000_000_000), nil
}

func (s *stubBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	s.record("eth_maxPriorityFeePerGas")
	return big.NewInt(1_000_000_000), nil
}

func (s *stubBackend) EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error) {
	s.record("eth_estimateGas")
	return s.estimate, s.estimateErr
}

func (s *stubBackend) SendRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	s.record("eth_sendRawTransaction")
	s.mu.Lock()
	s.sent = append(s.sent, tx)
	s.mu.Unlock()
	return s.sendHash, s.sendErr
}

// countingDialer counts how often a backend was requested.
type countingDialer struct {
	backend *stubBackend
	dials   int
}

func (d *countingDialer) Dial(ctx context.Context, cfg web3.ChainConfig) (web3.Backend, error) {
	d.dials++
	return d.backend, nil
}

func testChain() web3.ChainConfig {
	return web3.ChainConfig{
		Name:       "sepolia",
		RPCURL:     "http://rpc.invalid",
		ChainID:    big.NewInt(11155111),
		PrivateKey: testKey,
	}
}

func mustToken(t interface{ Fatalf(string, ...any) }) web3.TokenContract {
	token, err := web3.NewTokenContract(testToken, "")
	if err != nil {
		t.Fatalf("token contract: %v", err)
	}
	return token
}
