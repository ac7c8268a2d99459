package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/ziutek/telnet"
)

// TelnetTransport Telnet 连接上的传输；选项协商由 telnet.Conn 处理，认证由会话引擎完成
type TelnetTransport struct {
	*stream
	conn *telnet.Conn
}

// DialTelnet 建立 Telnet 连接
func DialTelnet(ctx context.Context, t Target, opts Options) (*TelnetTransport, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: opts.KeepAlive}
	raw, err := dialer.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.Addr(), err)
	}
	conn, err := telnet.NewConn(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("telnet negotiate with %s: %w", t.Addr(), err)
	}
	tt := &TelnetTransport{conn: conn}
	tt.stream = newStream(conn, conn.Close)
	tt.stream.start(conn)
	return tt, nil
}
