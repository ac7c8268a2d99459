package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/session"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// DefaultPerm 配置文件默认权限 rw-r--r--
const DefaultPerm os.FileMode = 0644

// Options 获取配置的公共参数
type Options struct {
	Credentials transport.Credentials
	Timeout     time.Duration
	ExitGrace   time.Duration
	Perm        os.FileMode
}

// Request 一次获取：从 Host 取 Source，发布到 Dest
type Request struct {
	Host    string
	Port    int
	Dialect *dialect.Dialect
	Source  string
	Dest    string
}

// Artifact 已发布的配置文件
type Artifact struct {
	Host     string      `json:"host"`
	Source   string      `json:"source"`
	Dest     string      `json:"dest"`
	Perm     os.FileMode `json:"perm"`
	Size     int64       `json:"size"`
	Checksum string      `json:"checksum"`
	// Status 设备报告的退出码，未报告时为 0
	Status int `json:"status"`
	// ModTime 设备注释中的最后修改时间（若有）
	ModTime string `json:"mod_time,omitempty"`
}

// Fetcher 按方言选择获取方式
type Fetcher struct {
	opener transport.Opener
	opts   Options
}

// NewFetcher 创建 Fetcher
func NewFetcher(opener transport.Opener, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = session.DefaultTimeout
	}
	if opts.ExitGrace <= 0 {
		opts.ExitGrace = session.DefaultExitGrace
	}
	if opts.Perm == 0 {
		opts.Perm = DefaultPerm
	}
	return &Fetcher{opener: opener, opts: opts}
}

// DestPath 按文件名模板生成目标路径，如 "%s.cfg"、"%s-run.cfg"
func DestPath(dir, pattern, host string) string {
	if pattern == "" {
		pattern = "%s.cfg"
	}
	return filepath.Join(dir, fmt.Sprintf(pattern, host))
}

// Fetch 获取并原子发布一个配置文件；失败时目标文件保持原样
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Artifact, error) {
	if req.Dialect == nil || strings.TrimSpace(req.Host) == "" || req.Source == "" || req.Dest == "" {
		return nil, fmt.Errorf("transfer: dialect, host, source and dest are required")
	}
	if req.Port == 0 {
		req.Port = req.Dialect.DefaultPort()
	}
	log := logger.WithFields(logrus.Fields{
		"host":    req.Host,
		"dialect": req.Dialect.Name(),
		"method":  req.Dialect.Transfer(),
		"source":  req.Source,
	})
	log.Info("Fetching configuration")

	var (
		art *Artifact
		err error
	)
	switch req.Dialect.Transfer() {
	case dialect.TransferSCP:
		art, err = f.rawCopy(ctx, req)
	case dialect.TransferExecShow:
		art, err = f.execShow(ctx, req)
	case dialect.TransferShellShow:
		art, err = f.shellShow(ctx, req)
	default:
		err = fmt.Errorf("transfer: unsupported method %q", req.Dialect.Transfer())
	}
	if err != nil {
		log.WithError(err).Error("Configuration transfer failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{"dest": art.Dest, "size": art.Size}).Info("Configuration published")
	return art, nil
}

// openExec 以 exec 方式打开 SSH 通道
func (f *Fetcher) openExec(ctx context.Context, req Request, command string) (transport.Transport, error) {
	if req.Dialect.Protocol() != dialect.ProtocolSSH {
		return nil, session.NewError(session.ConnectError, req.Host, "exec "+command,
			fmt.Errorf("dialect %s does not support exec channels", req.Dialect.Name()))
	}
	t, err := f.opener.Open(ctx, transport.Target{
		Host:        req.Host,
		Port:        req.Port,
		Protocol:    transport.SSH,
		Credentials: f.opts.Credentials,
		Command:     command,
	})
	if err != nil {
		return nil, session.NewError(session.ConnectError, req.Host, "exec "+command, err)
	}
	return t, nil
}

// streamErr 读取失败分类
func streamErr(ctx context.Context, host, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind := session.TransportError
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			kind = session.ProtocolTimeout
		}
		return session.NewError(kind, host, op, ctxErr)
	}
	if errors.Is(err, errIdle) {
		return session.NewError(session.ProtocolTimeout, host, op, err)
	}
	return session.NewError(session.TransportError, host, op, err)
}

// exitStatus 等待 exec 通道报告退出码，最多等待 grace
func exitStatus(t transport.Transport, grace time.Duration) int {
	r, ok := t.(transport.ExitReporter)
	if !ok {
		return 0
	}
	deadline := time.Now().Add(grace)
	for {
		if code, ok := r.ExitStatus(); ok {
			return code
		}
		if time.Now().After(deadline) {
			return 0
		}
		time.Sleep(10 * time.Millisecond)
	}
}
