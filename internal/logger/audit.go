package logger

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

var (
	auditMu  sync.Mutex
	auditLog *log.Logger
)

// SetAuditWriter 设置风控审计日志输出；nil 表示关闭。
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags)
}

// AuditEnabled 报告审计日志是否已开启。
func AuditEnabled() bool {
	auditMu.Lock()
	defer auditMu.Unlock()
	return auditLog != nil
}

// Audit 以块格式写入一条审计记录：
//
//	[AUDIT][kind][subject]
//	key=value ...
//	=====
func Audit(kind, subject string, fields map[string]any) {
	auditMu.Lock()
	l := auditLog
	auditMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AUDIT]")
	for _, tag := range []string{kind, subject} {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(fields[k]))
		b.WriteString("\n")
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}
