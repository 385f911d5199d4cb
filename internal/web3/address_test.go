package web3

import (
	"strings"
	"testing"

	xerrors "TokenAction-Chain/internal/errors"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"lower", "0xabc1230000000000000000000000000000000001", true},
		{"mixed", "0xAbC1230000000000000000000000000000000001", true},
		{"padded", "  0xAbC1230000000000000000000000000000000001\n", true},
		{"short", "0xabc123", false},
		{"long", "0xabc12300000000000000000000000000000000011", false},
		{"no prefix", "abc1230000000000000000000000000000000001aa", false},
		{"non hex", "0xzzz1230000000000000000000000000000000001", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := ParseAddress(tc.input)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.EqualFold(addr.Hex(), strings.TrimSpace(tc.input)) {
					t.Fatalf("address changed: %s", addr.Hex())
				}
				return
			}
			if xerrors.CodeOf(err) != xerrors.CodeInvalidAddress {
				t.Fatalf("expected INVALID_ADDRESS, got %v", err)
			}
		})
	}
}

func TestFindAddress(t *testing.T) {
	text := "Check the balance of 0xAbC1230000000000000000000000000000000001 on Sepolia"
	got, ok := FindAddress(text)
	if !ok || got != "0xAbC1230000000000000000000000000000000001" {
		t.Fatalf("unexpected match %q", got)
	}

	hash := "tx 0x" + strings.Repeat("ab", 32)
	if _, ok := FindAddress(hash); ok {
		t.Fatalf("a 32-byte hash must not be taken for an address")
	}
}

func TestSigningKey(t *testing.T) {
	if _, err := (ChainConfig{}).SigningKey(); xerrors.CodeOf(err) != xerrors.CodeMissingCredential {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
	bad := ChainConfig{PrivateKey: "0xnothex"}
	if _, err := bad.SigningKey(); xerrors.CodeOf(err) != xerrors.CodeMissingCredential {
		t.Fatalf("expected MISSING_CREDENTIAL, got %v", err)
	}
	good := ChainConfig{PrivateKey: "0x" + strings.Repeat("11", 32)}
	if _, err := good.SigningKey(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if good.Redacted().PrivateKey != "***" {
		t.Fatalf("key not redacted")
	}
}
