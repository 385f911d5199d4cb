package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"TokenAction-Chain/internal/llm"
)

// Client 通过调用 Python 脚本完成文本抽取。
//
// 脚本从 stdin 读取 {"prompt": ..., "timestamp": ...}，向 stdout 输出
// {"text": ...}；非 JSON 输出按纯文本处理。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Extract 调用外部脚本，并返回输出的第一行。
func (c *Client) Extract(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"prompt":    prompt,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("执行 Python 脚本失败: %w, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return llm.FirstLine(stdout.String()), nil
	}
	return llm.FirstLine(resp.Text), nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Extractor = (*Client)(nil)
