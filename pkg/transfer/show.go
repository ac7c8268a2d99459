package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/pkg/session"
)

// copyConfig 去掉回显横幅与修改时间注释，从配置起点开始写入 w；
// 框架错误与写入错误以 *session.Error 返回，读取错误原样返回
func copyConfig(host string, d *dialect.Dialect, source string, r *bufio.Reader, w io.StringWriter) (string, error) {
	op := "show " + source
	framing := func(format string, args ...interface{}) error {
		return session.NewError(session.ProtocolFraming, host, op, fmt.Errorf(format, args...))
	}
	readLine := func() (string, error) {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return line, err
	}

	if banner := d.Banner(source); banner != nil {
		line, err := readLine()
		if errors.Is(err, io.EOF) {
			return "", framing("missing banner")
		}
		if err != nil {
			return "", err
		}
		if !banner.MatchString(strings.TrimRight(line, "\r\n")) {
			return "", framing("unexpected banner %q", strings.TrimRight(line, "\r\n"))
		}
	}

	var modTime string
	checkModTime := d.ModTimePattern() != nil
	start := d.StartPattern()
	started := start == nil
	for {
		line, err := readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return modTime, err
		}
		text := strings.TrimRight(line, "\r\n")

		if checkModTime {
			checkModTime = false
			re := d.ModTimePattern()
			if m := re.FindStringSubmatch(text); m != nil {
				if i := re.SubexpIndex("date"); i > 0 {
					modTime = m[i]
				}
				continue
			}
		}
		if !started {
			if !start.MatchString(text) {
				continue
			}
			started = true
		}
		if _, err := w.WriteString(line); err != nil {
			return modTime, session.NewError(session.PersistError, host, op, err)
		}
		if d.StopAtBlank() && strings.TrimSpace(text) == "" {
			break
		}
	}
	if !started {
		return modTime, framing("config start %q not found", start.String())
	}
	return modTime, nil
}

// execShow 无 PTY 的 exec 通道运行 show 命令（无回显、无分页）
func (f *Fetcher) execShow(ctx context.Context, req Request) (*Artifact, error) {
	cmd := req.Dialect.ShowCommand(req.Source)
	t, err := f.openExec(ctx, req, cmd)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	st, err := stage(req.Dest, f.opts.Perm)
	if err != nil {
		return nil, session.NewError(session.PersistError, req.Host, cmd, err)
	}
	defer st.Discard()

	br := bufio.NewReader(newStreamReader(t, f.opts.Timeout))
	modTime, err := copyConfig(req.Host, req.Dialect, req.Source, br, st)
	if err != nil {
		var se *session.Error
		if !errors.As(err, &se) {
			err = streamErr(ctx, req.Host, cmd, err)
		}
		return nil, err
	}
	status := exitStatus(t, f.opts.ExitGrace)
	return f.commit(req, st, status, modTime)
}

// shellShow 通过会话引擎运行 show 命令，引擎负责回显、分页与退出
func (f *Fetcher) shellShow(ctx context.Context, req Request) (*Artifact, error) {
	cmd := req.Dialect.ShowCommand(req.Source)
	out, err := session.Run(ctx, f.opener, session.Config{
		Dialect:     req.Dialect,
		Host:        req.Host,
		Port:        req.Port,
		Credentials: f.opts.Credentials,
		Timeout:     f.opts.Timeout,
		ExitGrace:   f.opts.ExitGrace,
		Preamble:    req.Dialect.TransferPreamble(),
	}, []string{cmd})
	if err != nil {
		return nil, err
	}
	text, _ := out.Text(cmd)

	st, err := stage(req.Dest, f.opts.Perm)
	if err != nil {
		return nil, session.NewError(session.PersistError, req.Host, cmd, err)
	}
	defer st.Discard()

	modTime, err := copyConfig(req.Host, req.Dialect, req.Source, bufio.NewReader(strings.NewReader(text)), st)
	if err != nil {
		return nil, err
	}
	return f.commit(req, st, out.Status, modTime)
}

func (f *Fetcher) commit(req Request, st *staging, status int, modTime string) (*Artifact, error) {
	if err := st.Commit(); err != nil {
		return nil, session.NewError(session.PersistError, req.Host, "publish "+req.Dest, err)
	}
	return &Artifact{
		Host:     req.Host,
		Source:   req.Source,
		Dest:     req.Dest,
		Perm:     f.opts.Perm,
		Size:     st.size,
		Checksum: st.Checksum(),
		Status:   status,
		ModTime:  modTime,
	}, nil
}
