package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// StartupSummary 是启动时打印的配置概要。
type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Source     string
	Interval   string
	Sessions   string
	Strategies []StrategyDetail
	Rejected   map[string]string
	Sinks      []string
	Agent      string
	Stores     []string
}

type StrategyDetail struct {
	ID       string
	Name     string
	Version  string
	Disabled bool
	Rules    int
	Required int
}

func (s *StartupSummary) Print() {
	s.Render(os.Stdout)
}

func (s *StartupSummary) Render(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[运行 (RUNTIME)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  快照来源: %s\n", s.Source)
	fmt.Fprintf(w, "  节奏: %s  时段: %s\n", s.Interval, s.Sessions)
	fmt.Fprintf(w, "  存储: %s\n", formatList(s.Stores))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	if len(s.Strategies) == 0 {
		fmt.Fprintln(w, "  (无配置)")
	}
	for _, st := range s.Strategies {
		state := "启用"
		if st.Disabled {
			state = "停用"
		}
		fmt.Fprintf(w, "  > %s %s (%s) [%s] 规则 %d，必需 %d\n", st.ID, st.Name, st.Version, state, st.Rules, st.Required)
	}
	if len(s.Rejected) > 0 {
		ids := make([]string, 0, len(s.Rejected))
		for id := range s.Rejected {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  ! %s 被拒绝: %s\n", id, s.Rejected[id])
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[推送与解释 (EDGE)]")
	fmt.Fprintf(w, "  推送通道: %s\n", formatList(s.Sinks))
	fmt.Fprintf(w, "  解释代理: %s\n", s.Agent)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
