package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(text, action string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识，Address 为该实体登记的链上地址。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Address  string   `json:"address,omitempty"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据用户输入与动作名称进行关键字匹配。没有关键字的条目视为通用条目。
func (p *StaticProvider) Query(text, action string) []Snippet {
	if p == nil {
		return nil
	}

	text = strings.ToLower(strings.TrimSpace(text))
	action = strings.ToLower(strings.TrimSpace(action))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, text, action) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

// Len 返回知识条目数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

func matches(snippet Snippet, text, action string) bool {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return true
	}
	if containsAny(snippet.Keywords, text, action) {
		return true
	}
	return containsAny(snippet.Tags, text, action)
}

func containsAny(words []string, text, action string) bool {
	for _, word := range words {
		normalized := strings.ToLower(strings.TrimSpace(word))
		if normalized == "" {
			continue
		}
		if strings.Contains(text, normalized) || strings.Contains(action, normalized) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
