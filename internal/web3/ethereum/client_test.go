package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "TokenAction-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type rpcReply struct {
	result any
	code   int
	msg    string
}

// fakeNode answers single JSON-RPC requests from a method table.
type fakeNode struct {
	mu      sync.Mutex
	replies map[string]rpcReply
	calls   map[string]int
}

func newFakeNode(replies map[string]rpcReply) (*fakeNode, *httptest.Server) {
	node := &fakeNode{replies: replies, calls: make(map[string]int)}
	return node, httptest.NewServer(node)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	reply, ok := n.replies[req.Method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case !ok:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	case reply.msg != "":
		resp["error"] = map[string]any{"code": reply.code, "message": reply.msg}
	default:
		resp["result"] = reply.result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func signedTx(t *testing.T) *coretypes.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chainID := big.NewInt(11155111)
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       60000,
		To:        &to,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return signed
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Name: "sepolia"})
	if !xerrors.HasCode(err, xerrors.CodeNotConfigured) {
		t.Fatalf("expected NOT_CONFIGURED, got %v", err)
	}
}

func TestClientCallAndSend(t *testing.T) {
	ack := "0x00000000000000000000000000000000000000000000000000000000deadbeef"
	node, srv := newFakeNode(map[string]rpcReply{
		"eth_call":               {result: "0x000000000000000000000000000000000000000000000000000000000000002a"},
		"eth_sendRawTransaction": {result: ack},
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{Name: "local", RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &to, Data: []byte{0x70, 0xa0, 0x82, 0x31}}, nil)
	if err != nil {
		t.Fatalf("call contract: %v", err)
	}
	if new(big.Int).SetBytes(out).Int64() != 42 {
		t.Fatalf("unexpected call output %x", out)
	}

	hash, err := client.SendRawTransaction(ctx, signedTx(t))
	if err != nil {
		t.Fatalf("send raw: %v", err)
	}
	if hash != common.HexToHash(ack) {
		t.Fatalf("expected node hash, got %s", hash.Hex())
	}
	if node.count("eth_sendRawTransaction") != 1 {
		t.Fatalf("expected exactly one broadcast")
	}
}

func TestSendSurfacesNodeError(t *testing.T) {
	_, srv := newFakeNode(map[string]rpcReply{
		"eth_sendRawTransaction": {code: -32000, msg: "nonce too low"},
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	_, err = client.SendRawTransaction(context.Background(), signedTx(t))
	var rpcErr gethrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected json-rpc error, got %T %v", err, err)
	}
	if !strings.Contains(rpcErr.Error(), "nonce too low") {
		t.Fatalf("node message lost: %v", rpcErr)
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	_, srv := newFakeNode(map[string]rpcReply{
		"eth_chainId":     {result: "0xaa36a7"},
		"eth_blockNumber": {result: "0x10"},
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{Name: "sepolia", RPCURL: srv.URL, Notes: "test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	snap, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ChainID != "0xaa36a7" || snap.BlockNumber != "0x10" || snap.Name != "sepolia" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestClosedClientRefusesCalls(t *testing.T) {
	_, srv := newFakeNode(map[string]rpcReply{})
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.Close()

	if _, err := client.ChainID(context.Background()); !errors.Is(err, errClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if _, err := client.FetchChainSnapshot(context.Background()); !xerrors.HasCode(err, xerrors.CodeRPCUnavailable) {
		t.Fatalf("expected RPC_UNAVAILABLE, got %v", err)
	}
}
