package transfer

import (
	"errors"
	"time"

	"github.com/netsurvey/netsurvey/pkg/transport"
)

var errIdle = errors.New("no data received before timeout")

const pollInterval = 50 * time.Millisecond

// streamReader 把 Transport 适配为 io.Reader；timeout 内没有任何数据到达返回 errIdle
type streamReader struct {
	t       transport.Transport
	timeout time.Duration
	pending []byte
}

func newStreamReader(t transport.Transport, timeout time.Duration) *streamReader {
	return &streamReader{t: t, timeout: timeout}
}

func (r *streamReader) Read(p []byte) (int, error) {
	deadline := time.Now().Add(r.timeout)
	for len(r.pending) == 0 {
		b, err := r.t.ReadAvailable(pollInterval)
		if len(b) > 0 {
			r.pending = b
			break
		}
		if err != nil {
			return 0, err
		}
		if time.Now().After(deadline) {
			return 0, errIdle
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
