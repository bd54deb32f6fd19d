// Package knowledge provides the static travel knowledge base consulted when
// the planner falls back to the language model.
package knowledge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed travel.json
var builtin []byte

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(text string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
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

// Load 从 JSON 文件加载知识条目，path 为空时使用内置知识库。
func Load(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return decode(bytes.NewReader(builtin), maxResults)
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
	return decode(file, maxResults)
}

func decode(r io.Reader, maxResults int) (*StaticProvider, error) {
	var entries []Snippet
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Len 返回条目数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Query 按关键字命中数排序返回最相关的条目，命中数相同时保持文件顺序。
func (p *StaticProvider) Query(text string) []Snippet {
	if p == nil {
		return nil
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	type scored struct {
		idx   int
		score int
	}
	hits := make([]scored, 0)
	for i, item := range p.items {
		if s := score(item, text); s > 0 {
			hits = append(hits, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	if len(hits) > p.maxResults {
		hits = hits[:p.maxResults]
	}
	results := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		results = append(results, p.items[h.idx])
	}
	return results
}

func score(snippet Snippet, text string) int {
	n := 0
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized != "" && strings.Contains(text, normalized) {
			n++
		}
	}
	return n
}

// Format 将条目拼接为提示词中的一段文本。
func Format(snippets []Snippet) string {
	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		parts = append(parts, fmt.Sprintf("%s: %s", s.Title, s.Content))
	}
	return strings.Join(parts, "\n")
}

var _ Provider = (*StaticProvider)(nil)
