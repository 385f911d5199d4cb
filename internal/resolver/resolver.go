// Package resolver turns a free-text account reference into a validated
// address.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/knowledge"
	"TokenAction-Chain/internal/llm"
	"TokenAction-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// AddressResolver resolves literal addresses locally and delegates anything
// else to a text extractor, validating whatever comes back.
type AddressResolver struct {
	extractor llm.Extractor
	knowledge knowledge.Provider
	timeout   time.Duration
}

// Option 定义可选的 AddressResolver 配置。
type Option func(*AddressResolver)

// WithKnowledge adds address-book snippets to the extraction prompt.
func WithKnowledge(provider knowledge.Provider) Option {
	return func(r *AddressResolver) {
		r.knowledge = provider
	}
}

// WithTimeout bounds each extraction call.
func WithTimeout(timeout time.Duration) Option {
	return func(r *AddressResolver) {
		if timeout < 0 {
			timeout = 0
		}
		r.timeout = timeout
	}
}

// New 创建地址解析器。
func New(extractor llm.Extractor, opts ...Option) *AddressResolver {
	r := &AddressResolver{extractor: extractor}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the address reference denotes.
func (r *AddressResolver) Resolve(ctx context.Context, reference string) (common.Address, error) {
	trimmed := strings.TrimSpace(reference)
	if web3.IsAddress(trimmed) {
		return web3.ParseAddress(trimmed)
	}
	if r == nil || r.extractor == nil {
		return common.Address{}, xerrors.New(xerrors.CodeNotConfigured, "未配置地址抽取模型")
	}

	var snippets []knowledge.Snippet
	if r.knowledge != nil {
		snippets = r.knowledge.Query(trimmed, "")
	}
	prompt := BuildPrompt(trimmed, snippets)

	extractCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	output, err := r.extractor.Extract(extractCtx, prompt)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeExtractionFailed, err, "地址抽取调用失败")
	}

	candidate := llm.FirstLine(output)
	address, err := web3.ParseAddress(candidate)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidAddress, err, "模型输出不是有效地址",
			xerrors.WithMetadata("extracted", candidate))
	}
	return address, nil
}

// BuildPrompt renders the extraction instruction for message.
func BuildPrompt(message string, snippets []knowledge.Snippet) string {
	var builder strings.Builder
	builder.WriteString("Extract from the message the blockchain address.\n")
	builder.WriteString(fmt.Sprintf("The message is: %s\n", message))

	known := 0
	for _, snippet := range snippets {
		addr := strings.TrimSpace(snippet.Address)
		if addr == "" && strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		if known == 0 {
			builder.WriteString("\nKnown accounts:\n")
		}
		known++
		line := "- " + strings.TrimSpace(snippet.Title)
		if addr != "" {
			line += ": " + addr
		}
		if content := strings.TrimSpace(snippet.Content); content != "" {
			line += " (" + content + ")"
		}
		builder.WriteString(line + "\n")
	}

	builder.WriteString("\nOnly respond with the address, do not include anything else.")
	return builder.String()
}
