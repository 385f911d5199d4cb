package web3

import (
	"regexp"
	"strings"

	xerrors "TokenAction-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	addressInText  = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
)

// IsAddress reports whether s is exactly a 0x-prefixed 40 hex digit address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// ParseAddress validates s and returns the address. Mixed-case input is
// accepted without checksum verification; Hex() yields the EIP-55 form.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !addressPattern.MatchString(trimmed) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidAddress,
			"地址格式无效", xerrors.WithMetadata("input", truncate(trimmed, 64)))
	}
	return common.HexToAddress(trimmed), nil
}

// FindAddress returns the first literal address embedded in free text.
func FindAddress(text string) (string, bool) {
	match := addressInText.FindString(text)
	return match, match != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
