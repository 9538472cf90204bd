package notifier

import (
	"fmt"
	"strings"
	"time"

	"sealwatch/internal/decision"
	"sealwatch/internal/pkg/text"
	"sealwatch/internal/trigger"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的文本推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// FormatRecord 把决策记录渲染成推送消息。
func FormatRecord(rec decision.Record) StructuredMessage {
	icon := "🔴"
	switch rec.Action {
	case decision.Allow:
		icon = "🟢"
	case decision.Watch:
		icon = "🟡"
	}
	title := fmt.Sprintf("%s %s [%s] %s", rec.Symbol, rec.Name, rec.StrategyID, rec.Action.Label())
	msg := StructuredMessage{
		Icon:   icon,
		Title:  strings.Join(strings.Fields(title), " "),
		Footer: rec.OneLiner,
	}
	if ts, err := time.Parse(time.RFC3339, rec.TS); err == nil {
		msg.Timestamp = ts
	}
	summary := []string{
		fmt.Sprintf("置信度 %.2f", rec.Confidence),
		fmt.Sprintf("风险灯 %s / 市场 %s", rec.Regime.Light, rec.Regime.Mode),
		fmt.Sprintf("仓位上限 %.1f%%", rec.Plan.MaxSinglePosition*100),
	}
	msg.Sections = append(msg.Sections, MessageSection{Title: "概要", Lines: summary})

	conds := make([]string, 0, len(rec.Triggers))
	for _, r := range rec.Triggers {
		mark := "✓"
		switch r.Status {
		case trigger.Fail:
			mark = "✗"
		case trigger.Missing:
			mark = "?"
		}
		conds = append(conds, fmt.Sprintf("%s %s: %s", mark, r.Name, r.Detail))
	}
	msg.Sections = append(msg.Sections, MessageSection{Title: "条件", Lines: conds})

	exits := make([]string, 0, len(rec.Plan.ExitRules))
	for _, e := range rec.Plan.ExitRules {
		exits = append(exits, e.Text)
	}
	msg.Sections = append(msg.Sections,
		MessageSection{Title: "退出", Lines: exits},
		MessageSection{Title: "风险", Lines: rec.Risks},
		MessageSection{Title: "警告", Lines: rec.Warnings},
	)
	return msg
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxStructuredMessageLen)
}

func renderSections(secs []MessageSection) string {
	var blocks []string
	for _, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		blocks = append(blocks, b.String())
	}
	if len(blocks) == 0 {
		return ""
	}
	return "```\n" + strings.Join(blocks, "\n") + "```\n\n"
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
