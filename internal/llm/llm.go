package llm

import (
	"context"
	"strings"
)

// Extractor 将一段提示词交给大模型，返回单行文本结果。
//
// 实现方不解释输出内容，调用方负责校验。
type Extractor interface {
	Extract(ctx context.Context, prompt string) (string, error)
}

// ExtractorFunc 允许使用普通函数实现 Extractor。
type ExtractorFunc func(ctx context.Context, prompt string) (string, error)

// Extract 实现 Extractor 接口。
func (f ExtractorFunc) Extract(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// FirstLine 返回文本中第一个非空行。
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
