package web3

import (
	"fmt"
	"os"
	"strings"

	xerrors "TokenAction-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TokenABI is the ERC-20 read surface plus an owner-gated mint.
const TokenABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}]}
]`

const (
	DefaultBalanceMethod = "balanceOf"
	DefaultMintMethod    = "mint"
)

// TokenContract identifies a deployed token and the ABI used to talk to it.
type TokenContract struct {
	Address       common.Address
	ABI           abi.ABI
	Symbol        string
	BalanceMethod string
	MintMethod    string
}

// NewTokenContract builds a descriptor. An empty abiJSON selects TokenABI.
func NewTokenContract(address, abiJSON string) (TokenContract, error) {
	if strings.TrimSpace(address) == "" {
		return TokenContract{}, xerrors.New(xerrors.CodeNotConfigured, "未配置代币合约地址")
	}
	addr, err := ParseAddress(address)
	if err != nil {
		return TokenContract{}, xerrors.Wrap(xerrors.CodeNotConfigured, err, "代币合约地址无效")
	}
	if strings.TrimSpace(abiJSON) == "" {
		abiJSON = TokenABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return TokenContract{}, xerrors.Wrap(xerrors.CodeNotConfigured, err, "解析 ABI 失败")
	}
	return TokenContract{
		Address:       addr,
		ABI:           parsed,
		BalanceMethod: DefaultBalanceMethod,
		MintMethod:    DefaultMintMethod,
	}, nil
}

// LoadTokenABI reads an ABI JSON file; an empty path yields TokenABI.
func LoadTokenABI(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return TokenABI, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取 ABI 文件失败: %w", err)
	}
	return string(raw), nil
}

// IsZero reports whether the descriptor was never configured.
func (t TokenContract) IsZero() bool {
	return t.Address == (common.Address{})
}

// Call returns the call descriptor for method with args.
func (t TokenContract) Call(method string, args ...any) ContractCallSpec {
	return ContractCallSpec{
		Contract: t.Address,
		Method:   method,
		Args:     append([]any(nil), args...),
		abi:      t.ABI,
	}
}

// ContractCallSpec is an immutable, per-invocation call descriptor.
type ContractCallSpec struct {
	Contract common.Address
	Method   string
	Args     []any
	abi      abi.ABI
}

// Pack encodes the call data.
func (s ContractCallSpec) Pack() ([]byte, error) {
	if _, ok := s.abi.Methods[s.Method]; !ok {
		return nil, xerrors.New(xerrors.CodeNotConfigured,
			fmt.Sprintf("ABI 中不存在方法 %s", s.Method))
	}
	data, err := s.abi.Pack(s.Method, s.Args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 调用参数失败", s.Method))
	}
	return data, nil
}

// Unpack decodes raw return data. Empty data (no code at the address, or a
// non-conforming contract) is reported as a decode error.
func (s ContractCallSpec) Unpack(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, xerrors.New(xerrors.CodeDecodeError,
			fmt.Sprintf("%s 返回为空，合约 %s 可能不存在", s.Method, s.Contract.Hex()))
	}
	values, err := s.abi.Unpack(s.Method, data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeError, err, fmt.Sprintf("解码 %s 返回值失败", s.Method))
	}
	return values, nil
}
