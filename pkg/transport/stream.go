package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// stream 后台协程读取底层连接，ReadAvailable 以非阻塞方式取走已到达的数据
type stream struct {
	chunks chan []byte
	quit   chan struct{}
	w      io.Writer
	closer func() error

	pumps     sync.WaitGroup
	ended     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

func newStream(w io.Writer, closer func() error) *stream {
	return &stream{
		chunks: make(chan []byte, 256),
		quit:   make(chan struct{}),
		w:      w,
		closer: closer,
	}
}

// start 为每个输出源启动读协程，全部结束后关闭数据通道
func (s *stream) start(readers ...io.Reader) {
	for _, r := range readers {
		s.pumps.Add(1)
		go s.pump(r)
	}
	go func() {
		s.pumps.Wait()
		s.ended.Store(true)
		close(s.chunks)
	}()
}

func (s *stream) pump(r io.Reader) {
	defer s.pumps.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.quit:
				return
			}
		}
		if err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *stream) setErr(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.closed.Load() {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *stream) readErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

// ReadAvailable 实现 Transport
func (s *stream) ReadAvailable(max time.Duration) ([]byte, error) {
	if max <= 0 {
		max = time.Millisecond
	}
	timer := time.NewTimer(max)
	defer timer.Stop()

	var buf []byte
	select {
	case c, ok := <-s.chunks:
		if !ok {
			return nil, s.readErr()
		}
		buf = append(buf, c...)
	case <-timer.C:
		return nil, nil
	}
	for {
		select {
		case c, ok := <-s.chunks:
			if !ok {
				return buf, nil
			}
			buf = append(buf, c...)
		default:
			return buf, nil
		}
	}
}

// Write 实现 Transport
func (s *stream) Write(p []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.w.Write(p)
	return err
}

// IsClosed 本端关闭或对端已结束输出
func (s *stream) IsClosed() bool {
	return s.closed.Load() || s.ended.Load()
}

// Close 可重复调用
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}
