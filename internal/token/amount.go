package token

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "TokenAction-Chain/internal/errors"

	"github.com/holiman/uint256"
)

// AmountPolicy bounds mint amounts. A nil Max only enforces the uint256 range.
type AmountPolicy struct {
	Max *uint256.Int
}

// NewAmountPolicy parses a decimal maximum; an empty string means unbounded.
func NewAmountPolicy(max string) (AmountPolicy, error) {
	max = strings.TrimSpace(max)
	if max == "" {
		return AmountPolicy{}, nil
	}
	limit, err := uint256.FromDecimal(max)
	if err != nil {
		return AmountPolicy{}, fmt.Errorf("解析铸币上限失败: %w", err)
	}
	if limit.IsZero() {
		return AmountPolicy{}, fmt.Errorf("铸币上限必须大于 0")
	}
	return AmountPolicy{Max: limit}, nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量必须是十进制整数",
			xerrors.WithMetadata("input", s))
	}
	return amount, nil
}

// Check validates amount and returns it as a uint256.
func (p AmountPolicy) Check(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量必须为正整数")
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量超出 uint256 范围")
	}
	if p.Max != nil && value.Gt(p.Max) {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量超过单次铸币上限",
			xerrors.WithMetadata("max", p.Max.Dec()))
	}
	return value, nil
}
