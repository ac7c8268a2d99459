package util

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// legacyCharsets 设备 CLI 常见的非 UTF-8 编码，按优先级尝试
var legacyCharsets = []encoding.Encoding{
	simplifiedchinese.GB18030,
	traditionalchinese.Big5,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// EnsureUTF8Bytes 将一行设备输出转为 UTF-8；已是合法 UTF-8 时原样返回
func EnsureUTF8Bytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range legacyCharsets {
		if s, ok := decodeWith(enc, b); ok {
			return s
		}
	}
	return string(b)
}

// EnsureUTF8 字符串版本
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return EnsureUTF8Bytes([]byte(s))
}

func decodeWith(enc encoding.Encoding, b []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
