package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	agentMu  sync.Mutex
	agentLog *log.Logger
)

// SetAgentWriter 设置解释代理请求/响应的独立日志；nil 关闭。
func SetAgentWriter(w io.Writer) {
	agentMu.Lock()
	defer agentMu.Unlock()
	if w == nil {
		agentLog = nil
		return
	}
	agentLog = log.New(w, "", log.LstdFlags)
}

func logAgent(kind, model, subject, body string) {
	agentMu.Lock()
	l := agentLog
	agentMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AGENT][")
	b.WriteString(kind)
	b.WriteString("]")
	if model != "" {
		b.WriteString("[" + model + "]")
	}
	if subject != "" {
		b.WriteString("[" + subject + "]")
	}
	b.WriteString("\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogAgentRequest(model, subject, payload string) {
	logAgent("request", model, subject, payload)
}

func LogAgentResponse(model, subject, raw string) {
	logAgent("response", model, subject, raw)
}
