package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/netpulse/internal/stats"
)

// Language selects the prompt and response language.
type Language string

const (
	English Language = "en"
	Chinese Language = "zh"
)

// ParseLanguage accepts en or zh; empty means English.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return English, nil
	case English, Chinese:
		return l, nil
	}
	return "", &ConfigurationError{Field: "language", Value: s, Reason: "expected en or zh"}
}

// AnalysisData is what gets sent for analysis. Only Statistics takes part
// in the cache key.
type AnalysisData struct {
	Statistics stats.Statistics `json:"statistics"`
	// Focus is an optional question appended to the prompt.
	Focus string `json:"focus,omitempty"`
}

type promptText struct {
	system string
	intro  string
	focus  string
}

var prompts = map[Language]promptText{
	English: {
		system: "You are a web performance engineer. Analyze the network request statistics of one web page " +
			"and write a concise Markdown report with the sections Overview, Bottlenecks and Recommendations. " +
			"Cite concrete numbers from the data and order recommendations by expected impact.",
		intro: "Page: %s\n\nNetwork statistics (times in milliseconds, sizes in bytes):",
		focus: "Pay particular attention to: %s",
	},
	Chinese: {
		system: "你是一名网页性能工程师。请分析某个网页的网络请求统计数据，" +
			"用 Markdown 撰写简洁的报告，包含“概述”、“瓶颈”和“优化建议”三个部分。" +
			"请引用数据中的具体数值，并按预期收益排序优化建议。",
		intro: "页面：%s\n\n网络统计数据（时间单位为毫秒，大小单位为字节）：",
		focus: "请特别关注：%s",
	},
}

// BuildPrompt returns the system and user messages for data.
func BuildPrompt(data AnalysisData, lang Language) (system, user string, err error) {
	p, ok := prompts[lang]
	if !ok {
		return "", "", &ConfigurationError{Field: "language", Value: string(lang), Reason: "expected en or zh"}
	}
	summary, err := json.MarshalIndent(data.Statistics, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode statistics: %w", err)
	}

	page := data.Statistics.PageURL
	if page == "" {
		page = "-"
	}
	var b strings.Builder
	fmt.Fprintf(&b, p.intro, page)
	b.WriteString("\n```json\n")
	b.Write(summary)
	b.WriteString("\n```")
	if focus := strings.TrimSpace(data.Focus); focus != "" {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, p.focus, focus)
	}
	return p.system, b.String(), nil
}
