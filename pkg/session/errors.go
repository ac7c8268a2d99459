package session

import (
	"errors"
	"fmt"
)

// Kind 失败分类；Kind 本身实现 error，可用 errors.Is(err, session.ProtocolTimeout) 判断
type Kind int

const (
	// ConnectError 连接被拒绝或认证失败，尚未执行任何命令
	ConnectError Kind = iota + 1
	// ProtocolTimeout 等待回显或收集输出时超时，Partial 中带有已收集的输出
	ProtocolTimeout
	// ProtocolFraming 协议头或横幅不符合预期
	ProtocolFraming
	// TransportError 传输层读写失败
	TransportError
	// PersistError 写入配置文件失败
	PersistError
)

var kindNames = map[Kind]string{
	ConnectError:    "connect error",
	ProtocolTimeout: "protocol timeout",
	ProtocolFraming: "protocol framing",
	TransportError:  "transport error",
	PersistError:    "persist error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// Error 单台设备的一次失败，始终带有主机标识
type Error struct {
	Kind    Kind
	Host    string
	Op      string
	Err     error
	Partial *Output
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Host, e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewError 构造错误
func NewError(kind Kind, host, op string, err error) *Error {
	return &Error{Kind: kind, Host: host, Op: op, Err: err}
}

// KindOf 提取错误分类，非本包错误返回 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PartialOf 超时错误中携带的部分输出
func PartialOf(err error) *Output {
	var e *Error
	if errors.As(err, &e) {
		return e.Partial
	}
	return nil
}
