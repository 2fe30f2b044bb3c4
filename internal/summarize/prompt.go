package summarize

import (
	"fmt"
	"strings"
)

// Prompt is a provider-neutral completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

const systemPrompt = "你是一个专业的内容摘要生成助手，擅长提取文章核心内容。"

const userTemplate = `请为以下文章生成一个简洁的中文摘要，摘要应该：
1. 控制在%d字以内
2. 概括文章的主要内容和核心观点
3. 保持客观中立的语气
4. 使用流畅的中文表达

文章内容：
%s

请生成摘要：`

// BuildPrompt renders the summarization prompt for an already budgeted body.
func BuildPrompt(body string, maxLength, maxTokens int, temperature float32) Prompt {
	return Prompt{
		System:      systemPrompt,
		User:        fmt.Sprintf(userTemplate, maxLength, strings.TrimSpace(body)),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
