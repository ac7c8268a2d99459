package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// staging 目标目录下的私有临时文件，Commit 前对外不可见
type staging struct {
	file *renameio.PendingFile
	dest string
	sum  hash.Hash
	size int64
	// 写临时文件失败时记录，用于区分落盘错误与读取错误
	err error
}

// stage 在目标目录中创建临时文件，保证 rename 在同一文件系统内完成；权限不受 umask 影响
func stage(dest string, perm os.FileMode) (*staging, error) {
	dir := filepath.Dir(dest)
	f, err := renameio.NewPendingFile(dest,
		renameio.WithTempDir(dir),
		renameio.WithPermissions(perm),
		renameio.IgnoreUmask(),
	)
	if err != nil {
		return nil, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	return &staging{file: f, dest: dest, sum: sha256.New()}, nil
}

func (s *staging) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	s.sum.Write(p[:n])
	s.size += int64(n)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

// WriteString 供按行写入
func (s *staging) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

func (s *staging) TempPath() string { return s.file.Name() }

// Commit 落盘并 rename 到目标路径
func (s *staging) Commit() error {
	if err := s.file.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("publish %s: %w", s.dest, err)
	}
	return nil
}

// Discard 删除临时文件；Commit 之后调用无副作用
func (s *staging) Discard() {
	_ = s.file.Cleanup()
}

func (s *staging) Checksum() string { return hex.EncodeToString(s.sum.Sum(nil)) }

// Publish 将 r 的全部内容原子写入 dest
func Publish(dest string, perm os.FileMode, r io.Reader) (int64, string, error) {
	st, err := stage(dest, perm)
	if err != nil {
		return 0, "", err
	}
	defer st.Discard()
	if _, err := io.Copy(st, r); err != nil {
		return 0, "", fmt.Errorf("write %s: %w", st.TempPath(), err)
	}
	if err := st.Commit(); err != nil {
		return 0, "", err
	}
	return st.size, st.Checksum(), nil
}
