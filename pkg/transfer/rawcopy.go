package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/netsurvey/netsurvey/pkg/session"
)

// scp 源端协议头：C<四位八进制权限> <长度> <文件名>
var headerRe = regexp.MustCompile(`^C([0-7]{4})\s+(\d+)\s+(\S+)$`)

type scpHeader struct {
	Mode   uint32
	Length int64
	Name   string
}

// parseHeader 校验协议头；文件名须为请求的文件（允许设备追加扩展名，如 startup-config.cfg）
func parseHeader(line, source string) (*scpHeader, error) {
	line = strings.TrimRight(line, "\r\n")
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("invalid scp header %q", line)
	}
	want := path.Base(source)
	if m[3] != want && strings.TrimSuffix(m[3], path.Ext(m[3])) != want {
		return nil, fmt.Errorf("scp header names %q, requested %q", m[3], want)
	}
	mode, _ := strconv.ParseUint(m[1], 8, 32)
	length, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid scp length %q: %w", m[2], err)
	}
	return &scpHeader{Mode: uint32(mode), Length: length, Name: m[3]}, nil
}

// rawCopy 通过 exec 通道运行 scp -f，按协议头声明的长度接收文件内容并校验 \0 结束符
func (f *Fetcher) rawCopy(ctx context.Context, req Request) (*Artifact, error) {
	op := "scp " + req.Source
	t, err := f.openExec(ctx, req, "scp -f "+req.Source)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	// 发送 \0 表示就绪，设备随后发出协议头
	if err := t.Write([]byte{0}); err != nil {
		return nil, streamErr(ctx, req.Host, op, err)
	}
	br := bufio.NewReader(newStreamReader(t, f.opts.Timeout))
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, streamErr(ctx, req.Host, op+": header", err)
	}
	hdr, err := parseHeader(line, req.Source)
	if err != nil {
		if r, ok := t.(interface{ Stderr() string }); ok && r.Stderr() != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(r.Stderr()))
		}
		return nil, session.NewError(session.ProtocolFraming, req.Host, op, err)
	}

	st, err := stage(req.Dest, f.opts.Perm)
	if err != nil {
		return nil, session.NewError(session.PersistError, req.Host, op, err)
	}
	defer st.Discard()

	if err := t.Write([]byte{0}); err != nil {
		return nil, streamErr(ctx, req.Host, op, err)
	}
	// 按协议头声明的长度接收，内容本身可以包含 \0
	n, err := io.CopyN(st, br, hdr.Length)
	switch {
	case err == nil:
	case st.err != nil:
		return nil, session.NewError(session.PersistError, req.Host, op, st.err)
	case ctx.Err() != nil:
		return nil, streamErr(ctx, req.Host, op+": payload", err)
	case errors.Is(err, io.EOF):
		return nil, session.NewError(session.ProtocolFraming, req.Host, op,
			fmt.Errorf("payload truncated: received %d of %d bytes", n, hdr.Length))
	default:
		return nil, streamErr(ctx, req.Host, op+": payload", err)
	}
	// 内容之后必须紧跟 \0 结束符
	end, err := br.ReadByte()
	switch {
	case errors.Is(err, io.EOF) && ctx.Err() == nil:
		return nil, session.NewError(session.ProtocolFraming, req.Host, op, errors.New("missing end of file marker"))
	case err != nil:
		return nil, streamErr(ctx, req.Host, op+": end of file marker", err)
	case end != 0:
		return nil, session.NewError(session.ProtocolFraming, req.Host, op,
			fmt.Errorf("payload longer than %d bytes announced in header", hdr.Length))
	}
	_ = t.Write([]byte{0})
	status := exitStatus(t, f.opts.ExitGrace)

	return f.commit(req, st, status, "")
}
