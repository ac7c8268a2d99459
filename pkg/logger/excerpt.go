package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Excerpt 命令输出的首尾若干行
type Excerpt struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Total int      `json:"total"`
}

// ExcerptOf 提取输出首尾各 maxLines 行；总行数不超过 maxLines 时 Tail 为空
func ExcerptOf(output string, maxLines int) Excerpt {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.TrimSuffix(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if output == "" {
		return Excerpt{}
	}
	lines := strings.Split(output, "\n")
	ex := Excerpt{Total: len(lines)}
	if len(lines) <= maxLines {
		ex.Head = lines
		return ex
	}
	ex.Head = lines[:maxLines]
	start := len(lines) - maxLines
	if start < maxLines {
		start = maxLines
	}
	ex.Tail = lines[start:]
	return ex
}

// String 日志中的单行表示
func (e Excerpt) String() string {
	if e.Total == 0 {
		return ""
	}
	s := "head-lines: [" + strings.Join(e.Head, " ⟩ ") + "]"
	if len(e.Tail) > 0 {
		s += ", tail-lines: [" + strings.Join(e.Tail, " ⟩ ") + "]"
	}
	return s
}

// DebugCommandOutput 在 debug 级别记录命令输出的首尾行
func DebugCommandOutput(host, command, output string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}
	ex := ExcerptOf(output, maxLines)
	if ex.Total == 0 {
		return
	}
	WithFields(logrus.Fields{"host": host, "lines": ex.Total}).Debugf("Command output [%s]: %s", command, ex)
}
